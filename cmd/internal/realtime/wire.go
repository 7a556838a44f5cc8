package realtime

import (
	"coachhub/cmd/identity"
	"coachhub/cmd/internal/messaging"
	v1 "coachhub/shared/contracts/messaging/v1"
)

func wireParticipant(p identity.Participant) v1.Participant {
	return v1.Participant{ID: p.ID, DisplayName: p.DisplayName}
}

func wireActor(a identity.Actor) v1.Participant {
	return v1.Participant{ID: a.ID, DisplayName: a.DisplayName, Role: string(a.Role)}
}

func wireMessage(m messaging.Message) v1.Message {
	return v1.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
		BroadcastID:    m.BroadcastID,
	}
}

func wireOptimistic(om messaging.OptimisticMessage) v1.Message {
	return v1.Message{
		ID:             om.TempID,
		ConversationID: om.ConversationID,
		SenderID:       om.SenderID,
		SenderName:     om.SenderName,
		Body:           om.Body,
		CreatedAt:      om.CreatedAt,
		Pending:        true,
	}
}

func wireEntries(entries []messaging.Entry) []v1.Message {
	out := make([]v1.Message, 0, len(entries))
	for _, e := range entries {
		m := wireMessage(e.Message)
		if e.Pending {
			m.Pending = true
			if m.ID == "" {
				m.ID = e.TempID
			}
		}
		out = append(out, m)
	}
	return out
}

func wireSummaries(list []messaging.Summary) []v1.Summary {
	out := make([]v1.Summary, 0, len(list))
	for _, s := range list {
		out = append(out, v1.Summary{
			Counterpart:    wireParticipant(s.Counterpart),
			ConversationID: s.ConversationID,
			HasMessages:    s.HasMessages,
			LastBody:       s.LastBody,
			LastAt:         s.LastAt,
			Unread:         s.Unread,
		})
	}
	return out
}

func wireReport(r messaging.BroadcastReport) v1.BroadcastReportPayload {
	return v1.BroadcastReportPayload{
		BroadcastID: r.BroadcastID,
		Succeeded:   nonNil(r.Succeeded),
		Failed:      nonNil(r.Failed),
		Errors:      r.Errors,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
