package i18n

import "golang.org/x/text/language"

// Mail strings. Each constant is both the catalog key and the English text.
const (
	SubjectCreate        = "%[1]s created the questionnaire %[2]s"
	SubjectDelete        = "%[1]s deleted the questionnaire %[2]s"
	SubjectChangeStatus  = "%[1]s changed the status of %[2]s to %[3]s"
	SubjectReject        = "%[1]s rejected the questionnaire %[2]s"
	SubjectAddMember     = "%[1]s added %[2]s as %[3]s to %[4]s"
	SubjectRemoveMember  = "%[1]s removed %[2]s as %[3]s from %[4]s"
	SubjectEditContent   = "%[1]s edited the questionnaire %[2]s"
	SubjectFinishEditing = "%[1]s finished editing %[2]s"

	Greeting        = "Hello %s,"
	MessageLabel    = "Message:"
	OpenLink        = "Open the questionnaire: %s"
	PublishAddendum = "The questionnaire is now publicly available. Thank you for your contribution."
	SettingsFooter  = "You receive this mail because of your notification settings. Change them here: %s"
	Unsubscribe     = "Unsubscribe from all notifications: %s"

	StatusDraft     = "Draft"
	StatusSubmitted = "Submitted"
	StatusReviewed  = "Reviewed"
	StatusPublic    = "Public"
	StatusRejected  = "Rejected"
	StatusInactive  = "Inactive"
)

// Preferences page strings.
const (
	PrefsTitle        = "Email notifications"
	PrefsSubscription = "Subscription"
	PrefsNone         = "No emails"
	PrefsTodo         = "Only questionnaires I have to act on"
	PrefsAll          = "All notifications"
	PrefsNotifyAbout  = "Notify me about"
	PrefsLanguage     = "Language"
	PrefsSave         = "Save"
	PrefsSaved        = "Your settings have been saved."

	ActionDeleted       = "Deleted questionnaires"
	ActionStatusChanged = "Status changes"
	ActionMemberAdded   = "Added members"
	ActionMemberRemoved = "Removed members"
	ActionEditingDone   = "Finished editing"
)

var translations = map[language.Tag]map[string]string{
	language.French: {
		SubjectCreate:        "%[1]s a créé le questionnaire %[2]s",
		SubjectDelete:        "%[1]s a supprimé le questionnaire %[2]s",
		SubjectChangeStatus:  "%[1]s a changé le statut de %[2]s en %[3]s",
		SubjectReject:        "%[1]s a rejeté le questionnaire %[2]s",
		SubjectAddMember:     "%[1]s a ajouté %[2]s comme %[3]s à %[4]s",
		SubjectRemoveMember:  "%[1]s a retiré %[2]s comme %[3]s de %[4]s",
		SubjectEditContent:   "%[1]s a modifié le questionnaire %[2]s",
		SubjectFinishEditing: "%[1]s a terminé la modification de %[2]s",

		Greeting:        "Bonjour %s,",
		MessageLabel:    "Message :",
		OpenLink:        "Ouvrir le questionnaire : %s",
		PublishAddendum: "Le questionnaire est maintenant public. Merci pour votre contribution.",
		SettingsFooter:  "Vous recevez ce courriel en raison de vos paramètres de notification. Modifiez-les ici : %s",
		Unsubscribe:     "Se désabonner de toutes les notifications : %s",

		StatusDraft:     "Brouillon",
		StatusSubmitted: "Soumis",
		StatusReviewed:  "Révisé",
		StatusPublic:    "Public",
		StatusRejected:  "Rejeté",
		StatusInactive:  "Inactif",

		PrefsTitle:        "Notifications par courriel",
		PrefsSubscription: "Abonnement",
		PrefsNone:         "Aucun courriel",
		PrefsTodo:         "Seulement les questionnaires qui demandent mon action",
		PrefsAll:          "Toutes les notifications",
		PrefsNotifyAbout:  "Me notifier pour",
		PrefsLanguage:     "Langue",
		PrefsSave:         "Enregistrer",
		PrefsSaved:        "Vos paramètres ont été enregistrés.",
	},
	language.Spanish: {
		SubjectCreate:        "%[1]s creó el cuestionario %[2]s",
		SubjectDelete:        "%[1]s eliminó el cuestionario %[2]s",
		SubjectChangeStatus:  "%[1]s cambió el estado de %[2]s a %[3]s",
		SubjectReject:        "%[1]s rechazó el cuestionario %[2]s",
		SubjectAddMember:     "%[1]s añadió a %[2]s como %[3]s a %[4]s",
		SubjectRemoveMember:  "%[1]s quitó a %[2]s como %[3]s de %[4]s",
		SubjectEditContent:   "%[1]s editó el cuestionario %[2]s",
		SubjectFinishEditing: "%[1]s terminó de editar %[2]s",

		Greeting:        "Hola %s:",
		MessageLabel:    "Mensaje:",
		OpenLink:        "Abrir el cuestionario: %s",
		PublishAddendum: "El cuestionario ya es público. Gracias por su contribución.",
		SettingsFooter:  "Recibe este correo por su configuración de notificaciones. Cámbiela aquí: %s",
		Unsubscribe:     "Cancelar todas las notificaciones: %s",

		StatusDraft:     "Borrador",
		StatusSubmitted: "Enviado",
		StatusReviewed:  "Revisado",
		StatusPublic:    "Público",
		StatusRejected:  "Rechazado",
		StatusInactive:  "Inactivo",

		PrefsTitle:        "Notificaciones por correo",
		PrefsSubscription: "Suscripción",
		PrefsNone:         "Ningún correo",
		PrefsTodo:         "Solo cuestionarios que requieren mi acción",
		PrefsAll:          "Todas las notificaciones",
		PrefsNotifyAbout:  "Notificarme sobre",
		PrefsLanguage:     "Idioma",
		PrefsSave:         "Guardar",
		PrefsSaved:        "Su configuración se ha guardado.",
	},
	language.Portuguese: {
		SubjectCreate:       "%[1]s criou o questionário %[2]s",
		SubjectDelete:       "%[1]s excluiu o questionário %[2]s",
		SubjectChangeStatus: "%[1]s alterou o status de %[2]s para %[3]s",
		SubjectReject:       "%[1]s rejeitou o questionário %[2]s",
		SubjectEditContent:  "%[1]s editou o questionário %[2]s",

		Greeting:     "Olá %s,",
		MessageLabel: "Mensagem:",
		OpenLink:     "Abrir o questionário: %s",

		StatusDraft:     "Rascunho",
		StatusSubmitted: "Enviado",
		StatusReviewed:  "Revisado",
		StatusPublic:    "Público",
	},
}
