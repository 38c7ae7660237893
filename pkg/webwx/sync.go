package webwx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
)

// MsgTypeText is the only message type the dispatcher acts on.
const MsgTypeText = 1

type Message struct {
	ID         string `json:"MsgId"`
	From       string `json:"FromUserName"`
	To         string `json:"ToUserName"`
	Type       int    `json:"MsgType"`
	Content    string `json:"Content"`
	CreateTime int64  `json:"CreateTime"`
}

func (m Message) IsText() bool {
	return m.Type == MsgTypeText
}

// SyncBatch is the result of one webwxsync. Degraded is set when the
// response could not be decoded; the batch is then empty and its cursor
// is the empty cursor the session was reset to.
type SyncBatch struct {
	Ret      int
	Messages []Message
	Cursor   Cursor
	Degraded bool
}

type syncResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	SyncCheckKey Cursor       `json:"SyncCheckKey"`
	AddMsgCount  int          `json:"AddMsgCount"`
	AddMsgList   []Message    `json:"AddMsgList"`
}

// Check runs the synccheck long poll with the session's current cursor.
func (c *Client) Check(ctx context.Context, s *Session) (SyncCheck, error) {
	req, _, ep, cursor := s.wire()
	r, _ := cacheBuster()

	resp, err := c.get(ctx, "synccheck", ep.Sync+"/synccheck", map[string]string{
		"r":        r,
		"skey":     req.Skey,
		"sid":      req.Sid,
		"uin":      strconv.FormatInt(req.Uin, 10),
		"deviceid": req.DeviceID,
		"synckey":  cursor.String(),
	})
	if err != nil {
		return SyncCheck{}, fmt.Errorf("synccheck: %w", err)
	}

	res := ParseSyncCheck(resp.String())
	logger.DebugCF("sync", "Sync check", map[string]any{
		"retcode":  res.RetCode,
		"selector": res.Selector,
	})
	return res, nil
}

// Sync fetches pending messages and replaces the session cursor with the
// one the server returned. A transport failure leaves the cursor alone;
// an undecodable body resets it to empty and yields an empty batch.
func (c *Client) Sync(ctx context.Context, s *Session) (*SyncBatch, error) {
	req, passTicket, ep, cursor := s.wire()

	body := map[string]any{
		"BaseRequest": req,
		"SyncKey":     cursor,
		"rr":          ^time.Now().Unix(),
	}
	resp, err := c.postJSON(ctx, "webwxsync", ep.API+"/webwxsync", map[string]string{
		"sid":         req.Sid,
		"skey":        req.Skey,
		"pass_ticket": passTicket,
	}, body)
	if err != nil {
		return nil, fmt.Errorf("webwxsync: %w", err)
	}

	var sr syncResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		logger.WarnCF("sync", "Undecodable sync response, treating as empty", map[string]any{
			"error":  err.Error(),
			"status": resp.StatusCode(),
		})
		s.replaceCursor(Cursor{})
		return &SyncBatch{Ret: -1, Degraded: true}, nil
	}

	if sr.BaseResponse.Ret != 0 {
		logger.WarnCF("sync", "Sync returned non-zero ret", map[string]any{
			"ret":    sr.BaseResponse.Ret,
			"errmsg": sr.BaseResponse.ErrMsg,
		})
	}

	s.replaceCursor(sr.SyncCheckKey)
	return &SyncBatch{
		Ret:      sr.BaseResponse.Ret,
		Messages: sr.AddMsgList,
		Cursor:   sr.SyncCheckKey.Clone(),
	}, nil
}

type outgoingMessage struct {
	Type         int    `json:"Type"`
	Content      string `json:"Content"`
	FromUserName string `json:"FromUserName"`
	ToUserName   string `json:"ToUserName"`
	LocalID      string `json:"LocalID"`
	ClientMsgID  string `json:"ClientMsgId"`
}

type sendRequest struct {
	BaseRequest BaseRequest     `json:"BaseRequest"`
	Msg         outgoingMessage `json:"Msg"`
	Scene       int             `json:"Scene"`
}

type sendResponse struct {
	BaseResponse BaseResponse `json:"BaseResponse"`
	MsgID        string       `json:"MsgID"`
}

// SendText sends one text message from the session's own identity to a
// single recipient.
func (c *Client) SendText(ctx context.Context, s *Session, to, content string) error {
	req, passTicket, ep, _ := s.wire()
	msgID := strconv.FormatInt(time.Now().UnixMicro(), 10)

	resp, err := c.postJSON(ctx, "webwxsendmsg", ep.API+"/webwxsendmsg", map[string]string{
		"lang":        "zh-CN",
		"pass_ticket": passTicket,
	}, sendRequest{
		BaseRequest: req,
		Msg: outgoingMessage{
			Type:         MsgTypeText,
			Content:      content,
			FromUserName: s.UserName(),
			ToUserName:   to,
			LocalID:      msgID,
			ClientMsgID:  msgID,
		},
	})
	if err != nil {
		return fmt.Errorf("webwxsendmsg to %s: %w", to, err)
	}

	var sr sendResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		return fmt.Errorf("decoding webwxsendmsg response: %w", err)
	}
	if sr.BaseResponse.Ret != 0 {
		return fmt.Errorf("webwxsendmsg to %s: ret=%d %s", to, sr.BaseResponse.Ret, sr.BaseResponse.ErrMsg)
	}

	logger.DebugCF("sync", "Message sent", map[string]any{
		"to":     to,
		"msg_id": sr.MsgID,
		"length": len(content),
	})
	return nil
}
