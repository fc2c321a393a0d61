package screen

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramherd/gramherd/fleet/hierarchy"
)

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
	profileNode = `<node class="android.view.ViewGroup" resource-id="com.instagram.android:id/profile_header_container" bounds="[0,200][1080,800]"/>`
	editNode    = `<node class="android.widget.EditText" resource-id="com.instagram.android:id/username_edit_field" bounds="[40,400][1040,480]"/>`
	searchNode  = `<node class="android.widget.EditText" resource-id="com.instagram.android:id/action_bar_search_edit_text" bounds="[40,100][1040,180]"/>`
	reelsNode   = `<node class="androidx.viewpager2.widget.ViewPager2" resource-id="com.instagram.android:id/clips_viewer_view_pager" bounds="[0,0][1080,2400]"/>`
	feedNode    = `<node class="android.widget.ListView" resource-id="com.instagram.android:id/feed_timeline" bounds="[0,200][1080,2200]"/>`
)

func TestClassifyStates(t *testing.T) {
	c := New()

	tests := []struct {
		name string
		body string
		want State
	}{
		{"profile", profileNode, Profile},
		{"search", searchNode, Search},
		{"reels", reelsNode, Reels},
		{"home feed", feedNode, HomeFeed},
		{"edit profile", editNode, EditProfile},
		{"unknown", `<node class="android.widget.TextView" text="hello" bounds="[0,0][100,100]"/>`, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(dump(t, tt.body)))
		})
	}
}

func TestClassifyEditProfileBeatsProfile(t *testing.T) {
	// The edit form renders inside the profile chrome, so both structural
	// specs match. The more specific state must win.
	c := New()
	snap := dump(t, profileNode+editNode)
	assert.Equal(t, EditProfile, c.Classify(snap))
}

func TestClassifyChallengeBeatsEverything(t *testing.T) {
	c := New()
	body := profileNode + `<node class="android.widget.TextView" text="We detected automated behavior on your account" bounds="[40,900][1040,1000]"/>`
	assert.Equal(t, Challenge, c.Classify(dump(t, body)))
}

func TestClassifyChallengeIsCaseInsensitive(t *testing.T) {
	c := New()
	body := `<node class="android.widget.TextView" text="SUSPICIOUS ACTIVITY was noticed" bounds="[0,0][100,100]"/>`
	assert.Equal(t, Challenge, c.Classify(dump(t, body)))
}

func TestClassifyDisconnected(t *testing.T) {
	c := New()
	assert.Equal(t, Disconnected, c.Classify(nil))

	empty, err := hierarchy.Parse([]byte(`<?xml version="1.0"?><hierarchy/>`))
	require.NoError(t, err)
	assert.Equal(t, Disconnected, c.Classify(empty))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New()
	snap := dump(t, profileNode+feedNode)

	first := c.Classify(snap)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Classify(snap))
	}
	assert.Equal(t, Profile, first)
}
