package mail

import "time"

// Message is one fetched mail-metadata row. Messages are ephemeral: they are
// produced by a mailbox sweep, consumed during classification, and discarded
// once attachments are materialized to disk.
type Message struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	ReceivedAt      time.Time `json:"received_at"`
	HasAttachments  bool      `json:"has_attachments"`
	Mailbox         string    `json:"mailbox"`
	AttachmentNames []string  `json:"attachment_names,omitempty"`
}
