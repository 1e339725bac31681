package app

import (
	"context"
	"html"
	"strconv"
	"time"

	"remindbot/internal/command"
	"remindbot/internal/messenger"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const commandTimeout = 30 * time.Second

// worker handles updates until ctx is done. Several workers run concurrently;
// the dispatcher serializes work per message identity.
func (a *App) worker(ctx context.Context, self kit.Target) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			a.handleUpdate(ctx, self, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, self kit.Target, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, ok := buildRequest(up.Message, self)
	if !ok {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply := a.disp.Dispatch(cctx, req)
	if reply.Empty() {
		return
	}
	text, opt := a.addressReply(up.Message, reply)
	if _, err := a.adapter.SendText(cctx, up.Message.Chat(), text, opt); err != nil {
		a.log.Warn("reply failed",
			logx.String("request_id", req.ID),
			logx.Int64("chat_id", up.Message.ChatID),
			logx.Err(err),
		)
	}
}

// buildRequest parses m into a dispatcher request. Non-commands return false.
func buildRequest(m *kit.Message, self kit.Target) (messenger.Request, bool) {
	cmd, ok := command.Parse(m.Text, self.Username)
	if !ok {
		return messenger.Request{}, false
	}

	mentions := make([]kit.Target, 0, len(m.Mentions))
	for _, t := range m.Mentions {
		if self.ID != 0 && t.ID == self.ID {
			continue
		}
		mentions = append(mentions, t)
	}

	chat := kit.Target{Kind: kit.TargetChannel, ID: m.ChatID, ThreadID: m.ThreadID}
	if m.Private {
		chat.Kind = kit.TargetUser
	}
	return messenger.Request{
		Owner:     strconv.FormatInt(m.FromID, 10),
		OwnerName: m.FromName,
		Chat:      chat,
		Private:   m.Private,
		Mentions:  mentions,
		Command:   cmd,
	}, true
}

// addressReply mentions the author when answering in a shared chat, so the
// reply is not mistaken for someone else's. Private replies go out as is.
func (a *App) addressReply(m *kit.Message, reply messenger.Reply) (string, *kit.SendOptions) {
	opt := &kit.SendOptions{DisablePreview: true}
	if reply.HTML {
		opt.ParseMode = kit.ParseModeHTML
	}
	if m.Private || m.FromID == 0 {
		return reply.Text, opt
	}
	text := reply.Text
	if !reply.HTML {
		text = html.EscapeString(text)
	}
	opt.ParseMode = kit.ParseModeHTML
	author := kit.Target{Kind: kit.TargetUser, ID: m.FromID, Name: m.FromName}
	return a.adapter.Mention(author) + " " + text, opt
}
