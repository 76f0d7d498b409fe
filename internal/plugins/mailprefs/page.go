package mailprefs

import (
	"github.com/keyxmakerx/qcat/internal/i18n"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
)

// formView is what the token form shows.
type formView struct {
	Action       string
	Prefs        *Preferences
	IsStaff      bool
	Subscription Subscription
}

var subscriptionLabels = map[Subscription]string{
	SubscriptionNone: i18n.PrefsNone,
	SubscriptionTodo: i18n.PrefsTodo,
	SubscriptionAll:  i18n.PrefsAll,
}

var actionLabels = map[notifications.Action]string{
	notifications.ActionDelete:        i18n.ActionDeleted,
	notifications.ActionChangeStatus:  i18n.ActionStatusChanged,
	notifications.ActionAddMember:     i18n.ActionMemberAdded,
	notifications.ActionRemoveMember:  i18n.ActionMemberRemoved,
	notifications.ActionFinishEditing: i18n.ActionEditingDone,
}
