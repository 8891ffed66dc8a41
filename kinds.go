package nostrclient

// Nostr event kinds used by this client layer. These values are fixed by
// the protocol and must not be renumbered.
const (
	KindProfile  = 0     // user profile metadata
	KindNote     = 1     // short text note
	KindRepost   = 6     // repost of another event
	KindSeal     = 13    // signed+encrypted wrapper for a rumor
	KindRumor    = 14    // private-message plaintext content
	KindGiftWrap = 1059  // anonymized outer wrapper for a seal
	KindBlobAuth = 24242 // signed authorization for blob fetches
	KindVideo    = 32222 // short video post
)

// kindNames maps kind numbers to machine names, for logging only.
var kindNames = map[int]string{
	KindProfile:  "profile",
	KindNote:     "note",
	KindRepost:   "repost",
	KindSeal:     "seal",
	KindRumor:    "rumor",
	KindGiftWrap: "giftwrap",
	KindBlobAuth: "blobauth",
	KindVideo:    "video",
}

// KindName returns the machine name for a kind, or "unknown".
func KindName(kind int) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "unknown"
}
