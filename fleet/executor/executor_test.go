package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
	"github.com/gramherd/gramherd/fleet/screen"
)

// fakeChannel scripts a sequence of hierarchy snapshots and records every
// primitive the executor issues.
type fakeChannel struct {
	snaps      []*hierarchy.Snapshot
	idx        int
	captureErr error

	taps        int
	longPresses int
	typed       []string
	cleared     int
	openedLinks []string
	keys        []int
}

func (f *fakeChannel) CaptureHierarchy(ctx context.Context, serial string) (*hierarchy.Snapshot, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	i := f.idx
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	f.idx++
	return f.snaps[i], nil
}

func (f *fakeChannel) Tap(ctx context.Context, serial string, x, y int) error {
	f.taps++
	return nil
}

func (f *fakeChannel) LongPress(ctx context.Context, serial string, x, y int) error {
	f.longPresses++
	return nil
}

func (f *fakeChannel) Swipe(ctx context.Context, serial string, x1, y1, x2, y2, durationMs int) error {
	return nil
}

func (f *fakeChannel) TypeText(ctx context.Context, serial, text string) error {
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeChannel) ClearText(ctx context.Context, serial string) error {
	f.cleared++
	return nil
}

func (f *fakeChannel) PressKey(ctx context.Context, serial string, code int) error {
	f.keys = append(f.keys, code)
	return nil
}

func (f *fakeChannel) StartApp(ctx context.Context, serial, packageID string) error { return nil }

func (f *fakeChannel) OpenLink(ctx context.Context, serial, uri string) error {
	f.openedLinks = append(f.openedLinks, uri)
	return nil
}

func (f *fakeChannel) StopApp(ctx context.Context, serial, packageID string) error { return nil }

func (f *fakeChannel) ForegroundApp(ctx context.Context, serial string) (string, error) {
	return constants.TargetPackage, nil
}

func (f *fakeChannel) Screenshot(ctx context.Context, serial string) ([]byte, error) {
	return nil, nil
}

func (f *fakeChannel) Connect(ctx context.Context, address string) error    { return nil }
func (f *fakeChannel) Disconnect(ctx context.Context, address string) error { return nil }

func (f *fakeChannel) ListDevices(ctx context.Context) ([]definitions.DeviceInfo, error) {
	return nil, nil
}

func (f *fakeChannel) GetState(ctx context.Context, serial string) (definitions.ConnectionState, error) {
	return definitions.Online, nil
}

func dump(t *testing.T, body string) *hierarchy.Snapshot {
	t.Helper()
	xml := fmt.Sprintf(`<?xml version="1.0"?><hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]">%s</node>
</hierarchy>`, body)
	snap, err := hierarchy.Parse([]byte(xml))
	require.NoError(t, err)
	return snap
}

const (
	profileShell = `<node class="android.view.ViewGroup" resource-id="com.instagram.android:id/profile_header_container" bounds="[0,200][1080,800]"/>`
	followBtn    = `<node class="android.widget.Button" resource-id="com.instagram.android:id/profile_header_follow_button" text="Follow" bounds="[48,520][280,600]"/>`
	followingLbl = `<node class="android.widget.TextView" text="Following" bounds="[48,520][280,600]"/>`
	feedShell    = `<node class="android.widget.ListView" resource-id="com.instagram.android:id/feed_timeline" bounds="[0,200][1080,2200]"/>`
)

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		NavAttempts:  3,
		RetryBackoff: time.Millisecond,
		UISettle:     time.Millisecond,
	}
}

func newTestExecutor(ch *fakeChannel) *Executor {
	return New("test-serial", ch, screen.New(), Zero(), testConfig())
}

func TestExecuteFollowSuccess(t *testing.T) {
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell+followBtn),
		dump(t, profileShell+followingLbl),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, ch.taps)
}

func TestExecuteFollowSlowApplyNeverTapsTwice(t *testing.T) {
	// The follow registered, but the verification snapshot was taken before
	// the button relabeled. A second tap here would unfollow again.
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell+followBtn),
		dump(t, profileShell+followBtn), // verification misses the applied state
		dump(t, profileShell+followingLbl),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, ch.taps, "the desired state on a fresh snapshot must end the action")
}

func TestExecuteFollowAlreadyDoneIssuesNoPrimitives(t *testing.T) {
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell+followingLbl),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyDone, res.Status)
	assert.Zero(t, ch.taps)
	assert.Zero(t, ch.longPresses)
	assert.Empty(t, ch.typed)

	// Running it again changes nothing: the action is idempotent.
	ch.idx = 0
	res, err = e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyDone, res.Status)
	assert.Zero(t, ch.taps)
}

func TestExecuteLikeTwiceTapsOnlyTheOpener(t *testing.T) {
	postOpener := `<node class="android.widget.ImageView" content-desc="Photo by alice" bounds="[0,980][360,1340]"/>`
	likedPost := `<node class="android.widget.ImageView" content-desc="Liked" bounds="[40,1500][120,1580]"/>`

	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell+postOpener),
		dump(t, profileShell+likedPost), // target's post, already liked
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Like("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyDone, res.Status)
	// Opening the post costs one tap; the like control is never touched.
	assert.Equal(t, 1, ch.taps)
}

func TestExecuteRetriesUntilBudgetExhausted(t *testing.T) {
	// The follow button stays in place and the postcondition never appears.
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell+followBtn),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err, "an ordinary failure is the Result's business, not an error")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "postcondition not met", res.Reason)
	assert.Equal(t, 3, ch.taps)
}

func TestExecuteElementNeverAppears(t *testing.T) {
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, profileShell),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), StoryView("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, ch.taps)
}

func TestExecuteNavigatesToForeignProfileViaDeepLink(t *testing.T) {
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, feedShell), // Execute's initial observation
		dump(t, feedShell), // Navigate re-observes before stepping
		dump(t, profileShell+followBtn),
		dump(t, profileShell+followingLbl),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	require.NotEmpty(t, ch.openedLinks)
	assert.Equal(t, constants.ProfileURI("alice"), ch.openedLinks[0])
}

func TestExecuteChallengeIsFatal(t *testing.T) {
	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, `<node class="android.widget.TextView" text="Help us confirm it was you" bounds="[0,0][1080,200]"/>`),
	}}
	e := newTestExecutor(ch)

	res, err := e.Execute(context.Background(), Follow("alice"))
	assert.ErrorIs(t, err, definitions.ErrChallengeDetected)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, ch.taps)
}

func TestExecuteChannelLossSurfacesAsError(t *testing.T) {
	ch := &fakeChannel{captureErr: definitions.ErrDeviceUnreachable}
	e := newTestExecutor(ch)

	_, err := e.Execute(context.Background(), Follow("alice"))
	assert.ErrorIs(t, err, definitions.ErrDeviceUnreachable)
}

func TestExecuteRenameTypesNewName(t *testing.T) {
	editForm := `<node class="android.widget.EditText" resource-id="com.instagram.android:id/username_edit_field" bounds="[40,400][1040,480]"/>` +
		`<node class="android.widget.EditText" resource-id="com.instagram.android:id/full_name" text="Old Name" bounds="[40,300][1040,380]"/>` +
		`<node class="android.widget.Button" resource-id="com.instagram.android:id/action_bar_button_done" bounds="[980,80][1060,160]"/>`
	saved := `<node class="android.widget.EditText" resource-id="com.instagram.android:id/username_edit_field" bounds="[40,400][1040,480]"/>` +
		`<node class="android.widget.EditText" resource-id="com.instagram.android:id/full_name" text="New Name" bounds="[40,300][1040,380]"/>`

	ch := &fakeChannel{snaps: []*hierarchy.Snapshot{
		dump(t, editForm),
		dump(t, editForm), // confirm-step re-observation
		dump(t, saved),
	}}
	e := newTestExecutor(ch)

	action := Rename("New Name")
	action.SettleWait = time.Millisecond

	res, err := e.Execute(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, ch.cleared)
	assert.Equal(t, []string{"New Name"}, ch.typed)
}
