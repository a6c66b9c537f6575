package store

// mergeChat folds a partial upsert into the existing record. Both backends
// route every chat write through here so their observable behavior matches.
//
// Name updates merge, never blindly replace: an empty incoming name keeps
// the name already on file, so a chat identified once stays identified.
func mergeChat(existing *Chat, in ChatUpsert) Chat {
	var out Chat
	if existing != nil {
		out = *existing
	}
	out.JID = in.JID
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.UnreadCount != nil {
		out.UnreadCount = *in.UnreadCount
	}
	if in.LastMessageAt != nil {
		out.LastMessageAt = *in.LastMessageAt
	}
	if in.IsOnline != nil {
		out.IsOnline = *in.IsOnline
	}
	if in.IsTyping != nil {
		out.IsTyping = *in.IsTyping
	}
	if in.LastSeen != nil {
		out.LastSeen = *in.LastSeen
	}
	if in.IsStarred != nil {
		out.IsStarred = *in.IsStarred
	}
	if in.IsMuted != nil {
		out.IsMuted = *in.IsMuted
	}
	if in.IsPinned != nil {
		out.IsPinned = *in.IsPinned
	}
	if in.IsGroup != nil {
		out.IsGroup = *in.IsGroup
	}
	if in.GroupDescription != "" {
		out.GroupDescription = in.GroupDescription
	}
	if in.LastMessageFromMe != nil {
		out.LastMessageFromMe = *in.LastMessageFromMe
	}
	return out
}

// mergeMessage folds an incoming message into the existing record with the
// same id. A second write with the same id is an update in place, not a
// duplicate: content and status follow the incoming record, while the
// starred flag and a known sender name survive replays that omit them.
func mergeMessage(existing *Message, in *Message) Message {
	out := *in
	if existing == nil {
		if out.ContentType == "" {
			out.ContentType = ContentText
		}
		if out.Status == "" {
			out.Status = StatusSent
		}
		return out
	}
	out.IsStarred = existing.IsStarred
	if out.SenderName == "" {
		out.SenderName = existing.SenderName
	}
	if out.ContentType == "" {
		out.ContentType = existing.ContentType
	}
	if out.Status == "" {
		out.Status = existing.Status
	}
	return out
}

// mergeSettings applies a partial settings update.
func mergeSettings(existing Settings, in SettingsUpdate) Settings {
	out := existing
	if in.AutoReplyEnabled != nil {
		out.AutoReplyEnabled = *in.AutoReplyEnabled
	}
	if in.AutoReplyMessage != nil {
		out.AutoReplyMessage = *in.AutoReplyMessage
	}
	if in.BotPersona != nil {
		out.BotPersona = *in.BotPersona
	}
	return out
}
