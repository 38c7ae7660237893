package webwx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorString(t *testing.T) {
	c := Cursor{Count: 3, List: []SyncKeyItem{{1, 650}, {2, 651}, {1000, 1700000000}}}
	assert.Equal(t, "1_650|2_651|1000_1700000000", c.String())
	assert.Equal(t, "", Cursor{}.String())
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	require.Len(t, id, 16)
	assert.Equal(t, byte('e'), id[0])
	for _, r := range id[1:] {
		assert.True(t, r >= '0' && r <= '9', "non-digit %q in %s", r, id)
	}
}

func TestHostTableResolve(t *testing.T) {
	hosts := DefaultHostTable()

	ep, err := hosts.Resolve("https://wx2.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=x")
	require.NoError(t, err)
	assert.Equal(t, "https://wx2.qq.com/cgi-bin/mmwebwx-bin", ep.API)
	assert.Equal(t, "https://webpush.wx2.qq.com/cgi-bin/mmwebwx-bin", ep.Sync)
	assert.Equal(t, "https://file.wx2.qq.com/cgi-bin/mmwebwx-bin", ep.File)

	ep, err = hosts.Resolve("https://wechat.com/cgi-bin/mmwebwx-bin/webwxnewloginpage")
	require.NoError(t, err)
	assert.Equal(t, "https://webpush.web.wechat.com/cgi-bin/mmwebwx-bin", ep.Sync)

	_, err = hosts.Resolve("https://wx9.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage")
	assert.ErrorIs(t, err, ErrUnknownHost)

	_, err = hosts.Resolve("https://wx.qq.com/other/path")
	assert.ErrorIs(t, err, ErrUnknownHost)
}

func TestSessionSnapshotIsACopy(t *testing.T) {
	s := NewSession(SessionParams{
		Identity: Identity{UserName: "@me"},
		Request:  BaseRequest{Skey: "secret"},
		Cursor:   Cursor{Count: 1, List: []SyncKeyItem{{1, 1}}},
	})

	snap := s.Snapshot()
	snap.Cursor.List[0].Val = 99

	assert.Equal(t, int64(1), s.Cursor().List[0].Val)
	assert.True(t, snap.Valid)
	assert.NotEmpty(t, snap.DeviceID)

	s.Invalidate()
	assert.False(t, s.Snapshot().Valid)
}
