package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
)

type fakeNotifier struct {
	mu         sync.Mutex
	permission Permission
	shown      []Notification
	err        error
}

func (f *fakeNotifier) Permission() Permission { return f.permission }

func (f *fakeNotifier) Show(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.shown = append(f.shown, n)
	return nil
}

type fakeWindows struct {
	clients   []string
	navigated map[string]string
	opened    []string
}

func (f *fakeWindows) Clients() []string { return f.clients }

func (f *fakeWindows) Navigate(_ context.Context, clientID, url string) error {
	if f.navigated == nil {
		f.navigated = make(map[string]string)
	}
	f.navigated[clientID] = url
	return nil
}

func (f *fakeWindows) OpenWindow(_ context.Context, url string) error {
	f.opened = append(f.opened, url)
	return nil
}

// =====================================================
// Push
// =====================================================

func TestRender_SetsDeepLinkAndTag(t *testing.T) {
	n := Render([]byte(`{"title":"Trip","data":{"type":"trip_update","tripId":"t1","driver":"Ana"}}`))

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, n.ID, n.Tag)
	assert.Equal(t, "/?page=live-trip&tripId=t1", n.URL())
	assert.Equal(t, "Ana", n.Data["driver"])
}

func TestRender_KeepsExplicitTag(t *testing.T) {
	n := Render([]byte(`{"tag":"trip-t1"}`))
	assert.Equal(t, "trip-t1", n.Tag)
	assert.Equal(t, "/", n.URL())
}

func TestBridge_HandlePushShows(t *testing.T) {
	notifier := &fakeNotifier{permission: PermissionGranted}
	b := NewBridge(notifier, &fakeWindows{}, nil)

	n, err := b.HandlePush(context.Background(), []byte(`{"body":"hi","data":{"type":"message","conversationId":"c9"}}`))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Len(t, notifier.shown, 1)
	assert.Equal(t, "/?page=messages&conversationId=c9", notifier.shown[0].URL())
}

func TestBridge_HandlePushWithoutPermission(t *testing.T) {
	for _, p := range []Permission{PermissionDenied, PermissionDefault} {
		notifier := &fakeNotifier{permission: p}
		b := NewBridge(notifier, &fakeWindows{}, nil)

		n, err := b.HandlePush(context.Background(), []byte(`{"body":"hi"}`))
		require.NoError(t, err)
		assert.Nil(t, n)
		assert.Empty(t, notifier.shown)
	}
}

func TestBridge_HandlePushNotifierError(t *testing.T) {
	notifier := &fakeNotifier{permission: PermissionGranted, err: errors.New("boom")}
	b := NewBridge(notifier, &fakeWindows{}, nil)

	n, err := b.HandlePush(context.Background(), []byte("hello"))
	assert.Error(t, err)
	assert.Nil(t, n)
}

// =====================================================
// Clicks
// =====================================================

func TestBridge_HandleClickReusesOpenWindow(t *testing.T) {
	windows := &fakeWindows{clients: []string{"win-1", "win-2"}}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	n := Render([]byte(`{"data":{"type":"payment","paymentId":"p7"}}`))
	require.NoError(t, b.HandleClick(context.Background(), n, ""))

	assert.Equal(t, "/?page=payments&paymentId=p7", windows.navigated["win-1"])
	assert.NotContains(t, windows.navigated, "win-2")
	assert.Empty(t, windows.opened)
}

func TestBridge_HandleClickOpensWindow(t *testing.T) {
	windows := &fakeWindows{}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	n := Render([]byte(`{"data":{"type":"trip_update","tripId":"t1"}}`))
	require.NoError(t, b.HandleClick(context.Background(), n, "view"))

	assert.Equal(t, []string{"/?page=live-trip&tripId=t1"}, windows.opened)
}

func TestBridge_HandleClickDismiss(t *testing.T) {
	windows := &fakeWindows{clients: []string{"win-1"}}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	require.NoError(t, b.HandleClick(context.Background(), Render([]byte(`{}`)), ActionDismiss))
	assert.Empty(t, windows.navigated)
	assert.Empty(t, windows.opened)
}

func TestBridge_ClickHandler(t *testing.T) {
	windows := &fakeWindows{clients: []string{"win-1"}}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	data, _ := json.Marshal(ClickMessage{Notification: Render([]byte(`{"data":{"url":"/promo"}}`))})
	reply, err := b.ClickHandler(context.Background(), "win-1", data)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"url": "/promo"}, reply)
	assert.Equal(t, "/promo", windows.navigated["win-1"])

	_, err = b.ClickHandler(context.Background(), "win-1", json.RawMessage(`[`))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestBridge_HandleClickDerivesLinkFromType(t *testing.T) {
	windows := &fakeWindows{clients: []string{"win-1"}}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	n := Notification{Data: map[string]interface{}{"type": "trip_update", "tripId": "T1"}}
	require.NoError(t, b.HandleClick(context.Background(), n, ""))

	link := windows.navigated["win-1"]
	assert.Contains(t, link, "live-trip")
	assert.Contains(t, link, "T1")
}

func TestBridge_ClickHandlerWithoutURL(t *testing.T) {
	windows := &fakeWindows{}
	b := NewBridge(&fakeNotifier{}, windows, nil)

	data := json.RawMessage(`{"notification":{"data":{"type":"message","conversationId":"C9"}}}`)
	reply, err := b.ClickHandler(context.Background(), "win-1", data)
	require.NoError(t, err)

	want := "/?page=messages&conversationId=C9"
	assert.Equal(t, map[string]interface{}{"url": want}, reply)
	assert.Equal(t, []string{want}, windows.opened)
}
