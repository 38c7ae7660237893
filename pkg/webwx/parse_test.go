package webwx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoginTicket(t *testing.T) {
	ticket, err := ParseLoginTicket(`window.QRLogin.code = 200; window.QRLogin.uuid = "4eDUw9zdPg==";`)
	require.NoError(t, err)
	assert.Equal(t, "4eDUw9zdPg==", ticket)

	_, err = ParseLoginTicket(`window.QRLogin.code = 400;`)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParseScanStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   ScanStatus
		redirect string
	}{
		{"timeout", "window.code=408;", ScanPending, ""},
		{"no code", "", ScanPending, ""},
		{"scanned", "window.code=201;window.userAvatar = 'data:img/jpg;base64,';", ScanScanned, ""},
		{
			"confirmed",
			"window.code=200;\nwindow.redirect_uri=\"https://wx2.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=A&uuid=B&lang=zh_CN&scan=1\";",
			ScanConfirmed,
			"https://wx2.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage?ticket=A&uuid=B&lang=zh_CN&scan=1",
		},
		{"confirmed without redirect", "window.code=200;", ScanExpired, ""},
		{"expired", "window.code=400;", ScanExpired, ""},
		{"denied", "window.code=402;", ScanExpired, ""},
		{"server error", "window.code=500;", ScanExpired, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseScanStatus(tt.body)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.redirect, res.RedirectURI)
		})
	}
}

func TestParseInitMarkup(t *testing.T) {
	body := `<error><ret>0</ret><message></message><skey>@crypt_14ae1b12_b73ba2</skey>` +
		`<wxsid>yJs4Oe/7bPdg</wxsid><wxuin>1580000001</wxuin>` +
		`<pass_ticket>ZnDQ%2BLzn&amp;x</pass_ticket><isgrayscale>1</isgrayscale></error>`

	creds, err := ParseInitMarkup(body)
	require.NoError(t, err)
	assert.Equal(t, "@crypt_14ae1b12_b73ba2", creds.SKey)
	assert.Equal(t, "yJs4Oe/7bPdg", creds.SID)
	assert.Equal(t, int64(1580000001), creds.UIN)
	assert.Equal(t, "ZnDQ%2BLzn&x", creds.PassTicket)
}

func TestParseInitMarkup_MissingField(t *testing.T) {
	body := `<error><ret>0</ret><skey>k</skey><wxuin>1</wxuin><pass_ticket>p</pass_ticket></error>`
	_, err := ParseInitMarkup(body)
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "wxsid")
}

func TestParseInitMarkup_BadUin(t *testing.T) {
	body := `<error><skey>k</skey><wxsid>s</wxsid><wxuin>abc</wxuin><pass_ticket>p</pass_ticket></error>`
	_, err := ParseInitMarkup(body)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParseInitMarkup_Rejected(t *testing.T) {
	body := `<error><ret>1203</ret><message>blocked</message></error>`
	_, err := ParseInitMarkup(body)
	require.ErrorIs(t, err, ErrInitRejected)
	assert.Contains(t, err.Error(), "1203")
}

func TestParseSyncCheck(t *testing.T) {
	res := ParseSyncCheck(`window.synccheck={retcode:"0",selector:"2"}`)
	assert.True(t, res.HasMessages())
	assert.Equal(t, 2, res.Selector)

	res = ParseSyncCheck(`window.synccheck={retcode:"1102",selector:"0"}`)
	assert.True(t, res.SessionInvalid())
	assert.False(t, res.HasMessages())

	res = ParseSyncCheck(`<html>gateway timeout</html>`)
	assert.Equal(t, -1, res.RetCode)
	assert.False(t, res.HasMessages())
	assert.False(t, res.SessionInvalid())
}
