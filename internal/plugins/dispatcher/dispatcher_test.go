package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/qcat/internal/database"
	"github.com/keyxmakerx/qcat/internal/plugins/auth"
	"github.com/keyxmakerx/qcat/internal/plugins/mailprefs"
	"github.com/keyxmakerx/qcat/internal/plugins/notifications"
	"github.com/keyxmakerx/qcat/internal/plugins/permissions"
	"github.com/keyxmakerx/qcat/internal/plugins/questionnaires"
	"github.com/keyxmakerx/qcat/internal/plugins/smtp"
)

// --- Mocks ---

// mockLogRepo implements notifications.LogRepository for testing.
type mockLogRepo struct {
	mu          sync.Mutex
	logs        []notifications.Log
	subscribers map[int64][]string
	processed   map[int64]bool

	lockFn          func(id int64) (bool, error)
	subscribersHits int
	markedProcessed []int64
}

func newMockLogRepo(logs ...notifications.Log) *mockLogRepo {
	return &mockLogRepo{
		logs:        logs,
		subscribers: map[int64][]string{},
		processed:   map[int64]bool{},
	}
}

func (m *mockLogRepo) Append(ctx context.Context, q database.Querier, entry *notifications.NewLog) (*notifications.Log, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLogRepo) Get(ctx context.Context, q database.Querier, id int64) (*notifications.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.logs {
		if m.logs[i].ID == id {
			l := m.logs[i]
			return &l, nil
		}
	}
	return nil, fmt.Errorf("log %d not found", id)
}

func (m *mockLogRepo) Subscribers(ctx context.Context, q database.Querier, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribersHits++
	return m.subscribers[id], nil
}

func (m *mockLogRepo) ListUnprocessed(ctx context.Context, limit int) ([]notifications.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifications.Log
	for _, l := range m.logs {
		if !m.processed[l.ID] && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockLogRepo) LockForDispatch(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	if m.lockFn != nil {
		return m.lockFn(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[id], nil
}

func (m *mockLogRepo) MarkProcessed(ctx context.Context, tx *sql.Tx, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	m.markedProcessed = append(m.markedProcessed, id)
	return nil
}

func (m *mockLogRepo) ListByQuestionnaire(ctx context.Context, code string) ([]notifications.Log, error) {
	return nil, nil
}

// mockMembers implements MemberSource.
type mockMembers struct {
	members []questionnaires.Membership
	calls   int
}

func (m *mockMembers) MembersWithRoles(ctx context.Context, id int64, roles []questionnaires.Role) ([]questionnaires.Membership, error) {
	m.calls++
	var out []questionnaires.Membership
	for _, mem := range m.members {
		for _, r := range roles {
			if mem.Role == r {
				out = append(out, mem)
			}
		}
	}
	return out, nil
}

// mockUsers implements UserDirectory.
type mockUsers struct {
	users  map[string]auth.User
	groups map[string][]string
}

func (m *mockUsers) GetUsers(ctx context.Context, ids []string) (map[string]auth.User, error) {
	out := map[string]auth.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *mockUsers) UsersInGroups(ctx context.Context, groups []string) ([]string, error) {
	var out []string
	for _, g := range groups {
		out = append(out, m.groups[g]...)
	}
	return out, nil
}

// mockPrefs implements mailprefs.PreferencesService.
type mockPrefs struct {
	prefs map[string]mailprefs.Preferences
}

func (m *mockPrefs) Get(ctx context.Context, userID, language string) (*mailprefs.Preferences, error) {
	p := m.prefs[userID]
	return &p, nil
}

func (m *mockPrefs) ForUsers(ctx context.Context, userIDs []string) (map[string]mailprefs.Preferences, error) {
	out := map[string]mailprefs.Preferences{}
	for _, id := range userIDs {
		if p, ok := m.prefs[id]; ok {
			out[id] = p
		} else {
			out[id] = allPrefs(id)
		}
	}
	return out, nil
}

func (m *mockPrefs) Update(ctx context.Context, userID string, in mailprefs.UpdateInput) (*mailprefs.Preferences, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPrefs) Token(p *mailprefs.Preferences) (string, error) {
	return fmt.Sprintf("token-%d", p.ID), nil
}

func (m *mockPrefs) ResolveToken(ctx context.Context, token string) (*mailprefs.Preferences, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPrefs) SettingsURL(p *mailprefs.Preferences) (string, error) {
	return "https://qcat.example.org/notifications/preferences/" + p.UserID, nil
}

func (m *mockPrefs) UnsubscribeURL(p *mailprefs.Preferences) (string, error) {
	return "https://qcat.example.org/notifications/preferences/" + p.UserID + "?subscription=none", nil
}

func (m *mockPrefs) SetDefaults(ctx context.Context) (int64, error) {
	return 0, nil
}

// mockPending implements PendingChecker.
type mockPending struct {
	pending     map[string]bool
	isPendingFn func(userID string, logID int64) (bool, error)
}

func (m *mockPending) IsPending(ctx context.Context, userID string, logID int64) (bool, error) {
	if m.isPendingFn != nil {
		return m.isPendingFn(userID, logID)
	}
	return m.pending[userID], nil
}

// recordingTransport collects sent messages.
type recordingTransport struct {
	mu     sync.Mutex
	sent   []smtp.Message
	failTo map[string]bool
}

func (r *recordingTransport) Send(ctx context.Context, msg smtp.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTo[msg.To[0]] {
		return errors.New("550 mailbox unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingTransport) TestConnection(ctx context.Context) error { return nil }

func (r *recordingTransport) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.sent {
		out = append(out, m.To...)
	}
	return out
}

// fakeTxs runs transaction bodies without a database.
type fakeTxs struct{}

func (fakeTxs) WithTx(_ context.Context, _ *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// --- Fixtures ---

func allPrefs(userID string) mailprefs.Preferences {
	return mailprefs.Preferences{
		UserID:        userID,
		Subscription:  mailprefs.SubscriptionAll,
		WantedActions: append([]notifications.Action(nil), notifications.MailableActions...),
		Language:      "en",
	}
}

func user(id string, staff bool) auth.User {
	return auth.User{ID: id, Email: id + "@example.org", DisplayName: "User " + id, IsStaff: staff}
}

func directory(ids ...string) *mockUsers {
	users := map[string]auth.User{}
	for _, id := range ids {
		users[id] = user(id, true)
	}
	return &mockUsers{users: users, groups: map[string][]string{}}
}

func submittedLog(id int64) notifications.Log {
	return notifications.Log{
		ID:                  id,
		Action:              notifications.ActionChangeStatus,
		CatalystID:          "anna",
		CatalystName:        "Anna",
		QuestionnaireID:     12,
		QuestionnaireCode:   "technologies_12",
		QuestionnaireStatus: questionnaires.StatusSubmitted,
		Status:              &notifications.StatusUpdate{Status: questionnaires.StatusSubmitted},
	}
}

type fixture struct {
	logs      *mockLogRepo
	members   *mockMembers
	users     *mockUsers
	prefs     *mockPrefs
	pending   *mockPending
	grants    *permissions.Grants
	transport *recordingTransport
	cfg       Config
}

func newFixture(logs *mockLogRepo, users *mockUsers) *fixture {
	return &fixture{
		logs:      logs,
		members:   &mockMembers{},
		users:     users,
		prefs:     &mockPrefs{prefs: map[string]mailprefs.Preferences{}},
		pending:   &mockPending{pending: map[string]bool{}},
		transport: &recordingTransport{failTo: map[string]bool{}},
		cfg:       Config{BaseURL: "https://qcat.example.org"},
	}
}

func (f *fixture) dispatcher() *Dispatcher {
	return New(f.logs, f.members, f.users, f.prefs, f.pending, f.grants, f.transport, fakeTxs{}, f.cfg)
}

func assertRecipients(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected recipients %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected recipients %v, got %v", want, got)
		}
	}
}

// --- Tests ---

func TestDrain_SendsToSubscribersAndActingUsers(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	logs.subscribers[1] = []string{"editor", "reviewer"}

	f := newFixture(logs, directory("anna", "editor", "reviewer", "secretary", "global"))
	f.members.members = []questionnaires.Membership{
		{QuestionnaireID: 12, UserID: "reviewer", Role: questionnaires.RoleReviewer},
		{QuestionnaireID: 12, UserID: "secretary", Role: questionnaires.RoleSecretariat},
		{QuestionnaireID: 12, UserID: "anna", Role: questionnaires.RoleCompiler},
	}
	f.grants = &permissions.Grants{Groups: map[string]permissions.Grant{
		"reviewers": {Permissions: []permissions.Permission{permissions.Review}},
	}}
	f.users.groups["reviewers"] = []string{"global", "anna"}

	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertRecipients(t, f.transport.recipients(),
		"editor@example.org", "reviewer@example.org", "secretary@example.org", "global@example.org")
	if stats.Scanned != 1 || stats.Processed != 1 || stats.Sent != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(logs.markedProcessed) != 1 || logs.markedProcessed[0] != 1 {
		t.Errorf("expected log 1 to be marked processed, got %v", logs.markedProcessed)
	}

	msg := f.transport.sent[0]
	if msg.Headers[LogHeader] != "1" {
		t.Errorf("expected %s header 1, got %q", LogHeader, msg.Headers[LogHeader])
	}
	if msg.Subject != "Anna changed the status of technologies_12 to Submitted" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
}

func TestDrain_StaleStatusOnlyReachesSubscribers(t *testing.T) {
	l := submittedLog(1)
	l.QuestionnaireStatus = questionnaires.StatusReviewed
	logs := newMockLogRepo(l)
	logs.subscribers[1] = []string{"editor"}

	f := newFixture(logs, directory("editor", "reviewer"))
	f.members.members = []questionnaires.Membership{
		{QuestionnaireID: 12, UserID: "reviewer", Role: questionnaires.RoleReviewer},
	}

	if _, err := f.dispatcher().Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRecipients(t, f.transport.recipients(), "editor@example.org")
	if f.members.calls != 0 {
		t.Errorf("expected no acting-member lookup, got %d", f.members.calls)
	}
}

func TestDrain_MemberLogReachesAffectedUser(t *testing.T) {
	logs := newMockLogRepo(notifications.Log{
		ID:              5,
		Action:          notifications.ActionRemoveMember,
		CatalystID:      "anna",
		QuestionnaireID: 12,
		Member:          &notifications.MemberUpdate{AffectedID: "bea", Role: questionnaires.RoleEditor},
	})
	logs.subscribers[5] = []string{"anna", "carl"}

	f := newFixture(logs, directory("anna", "bea", "carl"))
	if _, err := f.dispatcher().Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRecipients(t, f.transport.recipients(), "carl@example.org", "bea@example.org")
}

func TestDrain_PreferenceFiltering(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	logs.subscribers[1] = []string{"none", "todo-yes", "todo-no", "unwanted", "outsider"}

	f := newFixture(logs, directory("none", "todo-yes", "todo-no", "unwanted"))
	f.users.users["outsider"] = user("outsider", false)

	none := allPrefs("none")
	none.Subscription = mailprefs.SubscriptionNone
	todoYes := allPrefs("todo-yes")
	todoYes.Subscription = mailprefs.SubscriptionTodo
	todoNo := allPrefs("todo-no")
	todoNo.Subscription = mailprefs.SubscriptionTodo
	unwanted := allPrefs("unwanted")
	unwanted.WantedActions = []notifications.Action{notifications.ActionDelete}
	f.prefs.prefs = map[string]mailprefs.Preferences{
		"none": none, "todo-yes": todoYes, "todo-no": todoNo, "unwanted": unwanted,
	}
	f.pending.pending["todo-yes"] = true
	f.cfg.StaffOnly = true

	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRecipients(t, f.transport.recipients(), "todo-yes@example.org")
	if stats.Sent != 1 || stats.Skipped != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDrain_TodoIgnoresNonStatusLogs(t *testing.T) {
	logs := newMockLogRepo(notifications.Log{
		ID:              9,
		Action:          notifications.ActionDelete,
		CatalystID:      "anna",
		QuestionnaireID: 12,
		Status:          &notifications.StatusUpdate{Status: questionnaires.StatusDraft},
	})
	logs.subscribers[9] = []string{"bea"}

	f := newFixture(logs, directory("bea"))
	p := allPrefs("bea")
	p.Subscription = mailprefs.SubscriptionTodo
	f.prefs.prefs["bea"] = p
	f.pending.pending["bea"] = true

	if _, err := f.dispatcher().Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.transport.recipients()); n != 0 {
		t.Errorf("expected no mail, got %d", n)
	}
}

func TestDrain_UnmailableActionsAreOnlyMarked(t *testing.T) {
	logs := newMockLogRepo(
		notifications.Log{ID: 1, Action: notifications.ActionCreate, CatalystID: "anna", QuestionnaireID: 12,
			Status: &notifications.StatusUpdate{Status: questionnaires.StatusDraft}},
		notifications.Log{ID: 2, Action: notifications.ActionEditContent, CatalystID: "anna", QuestionnaireID: 12},
	)
	logs.subscribers[2] = []string{"bea"}

	f := newFixture(logs, directory("bea"))
	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Processed != 2 || stats.Sent != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if logs.subscribersHits != 0 {
		t.Errorf("expected no recipient lookup, got %d", logs.subscribersHits)
	}
}

func TestDrain_LockedLogIsLeftAlone(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1), submittedLog(2))
	logs.subscribers[1] = []string{"bea"}
	logs.subscribers[2] = []string{"bea"}
	logs.lockFn = func(id int64) (bool, error) {
		if id == 1 {
			return false, fmt.Errorf("locking log 1: %w", &mysql.MySQLError{Number: 3572, Message: "NOWAIT"})
		}
		return false, nil
	}

	f := newFixture(logs, directory("bea"))
	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Blocked != 1 || stats.Processed != 1 || stats.Sent != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if logs.processed[1] {
		t.Error("locked log must stay unprocessed")
	}
}

func TestDrain_AlreadyProcessedIsSkipped(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	logs.subscribers[1] = []string{"bea"}
	logs.lockFn = func(int64) (bool, error) { return true, nil }

	f := newFixture(logs, directory("bea"))
	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Processed != 0 || stats.Sent != 0 || len(logs.markedProcessed) != 0 {
		t.Errorf("expected nothing to happen, got %+v marked=%v", stats, logs.markedProcessed)
	}
}

func TestDrain_TransportFailureDoesNotAbort(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	logs.subscribers[1] = []string{"bea", "carl"}

	f := newFixture(logs, directory("bea", "carl"))
	f.transport.failTo["bea@example.org"] = true

	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 1 || stats.Sent != 1 || stats.Processed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestDrain_LookupErrorMailsNobody(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	logs.subscribers[1] = []string{"bob", "carl"}

	f := newFixture(logs, directory("bob", "carl"))
	todo := allPrefs("carl")
	todo.Subscription = mailprefs.SubscriptionTodo
	f.prefs.prefs["carl"] = todo

	calls := 0
	f.pending.isPendingFn = func(userID string, logID int64) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("inbox query failed")
		}
		return true, nil
	}

	stats, err := f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Errors != 1 || stats.Sent != 0 || stats.Processed != 0 {
		t.Errorf("unexpected stats after failed lookup %+v", stats)
	}
	if got := f.transport.recipients(); len(got) != 0 {
		t.Fatalf("expected no mail before the log is rolled back, got %v", got)
	}
	if logs.processed[1] {
		t.Fatal("log must stay unprocessed after a failed lookup")
	}

	stats, err = f.dispatcher().Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if stats.Processed != 1 || stats.Sent != 2 {
		t.Errorf("unexpected stats on retry %+v", stats)
	}
	assertRecipients(t, f.transport.recipients(), "bob@example.org", "carl@example.org")
}

func TestDrain_CanceledContext(t *testing.T) {
	logs := newMockLogRepo(submittedLog(1))
	f := newFixture(logs, directory())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.dispatcher().Drain(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(logs.markedProcessed) != 0 {
		t.Error("expected nothing to be processed")
	}
}

// --- Concurrent workers ---

// rowLocks emulates FOR UPDATE NOWAIT: a row is held by one worker until
// that worker's transaction ends.
type rowLocks struct {
	mu     sync.Mutex
	holder map[int64]string
}

func (r *rowLocks) tryLock(id int64, worker string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.holder[id]; ok && h != worker {
		return false
	}
	r.holder[id] = worker
	return true
}

func (r *rowLocks) releaseAll(worker string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.holder {
		if h == worker {
			delete(r.holder, id)
		}
	}
}

// workerLogs is one worker's view of the shared log store.
type workerLogs struct {
	*mockLogRepo
	locks  *rowLocks
	worker string
}

func (w *workerLogs) LockForDispatch(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	if !w.locks.tryLock(id, w.worker) {
		return false, &mysql.MySQLError{Number: 3572, Message: "Statement aborted because lock(s) could not be acquired immediately and NOWAIT is set."}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed[id], nil
}

// workerTxs releases the worker's row locks when the body returns.
type workerTxs struct {
	locks  *rowLocks
	worker string
}

func (w workerTxs) WithTx(_ context.Context, _ *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	defer w.locks.releaseAll(w.worker)
	return fn(nil)
}

func TestDrain_ConcurrentWorkersMailEachLogOnce(t *testing.T) {
	const n = 40
	shared := newMockLogRepo()
	for i := int64(1); i <= n; i++ {
		shared.logs = append(shared.logs, submittedLog(i))
		shared.subscribers[i] = []string{"bea"}
	}
	locks := &rowLocks{holder: map[int64]string{}}
	transport := &recordingTransport{failTo: map[string]bool{}}
	users := directory("bea")

	var wg sync.WaitGroup
	results := make([]Stats, 3)
	for w := range results {
		worker := fmt.Sprintf("worker-%d", w)
		d := New(
			&workerLogs{mockLogRepo: shared, locks: locks, worker: worker},
			&mockMembers{}, users, &mockPrefs{prefs: map[string]mailprefs.Preferences{}},
			&mockPending{}, nil, transport, workerTxs{locks: locks, worker: worker},
			Config{BaseURL: "https://qcat.example.org"},
		)
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			stats, err := d.Drain(context.Background())
			if err != nil {
				t.Errorf("worker %d: %v", w, err)
			}
			results[w] = stats
		}(w)
	}
	wg.Wait()

	perLog := map[string]int{}
	for _, m := range transport.sent {
		perLog[m.Headers[LogHeader]]++
	}
	if len(perLog) != n {
		t.Fatalf("expected %d logs mailed, got %d", n, len(perLog))
	}
	for id, count := range perLog {
		if count != 1 {
			t.Errorf("log %s mailed %d times", id, count)
		}
	}

	processed := 0
	for _, s := range results {
		processed += s.Processed
	}
	if processed != n {
		t.Errorf("expected %d processed across workers, got %d", n, processed)
	}
}
