package store

import (
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
)

// EntityKind identifies the kind of an indexed entity. The set is closed:
// per-kind storage dispatch always goes through a switch over these values,
// never through runtime-built identifiers.
type EntityKind string

const (
	EntityKindMessage EntityKind = "message"
	EntityKindThread  EntityKind = "thread"
	EntityKindClaim   EntityKind = "claim"
)

// Validate returns an error for kinds outside the closed set.
func (k EntityKind) Validate() error {
	switch k {
	case EntityKindMessage, EntityKindThread, EntityKindClaim:
		return nil
	default:
		return errors.Errorf("unknown entity kind: %q", string(k))
	}
}

// EntityKinds lists all supported kinds.
func EntityKinds() []EntityKind {
	return []EntityKind{EntityKindMessage, EntityKindThread, EntityKindClaim}
}

// Message is a single email message.
type Message struct {
	ID             int32
	UID            string
	AccountID      int32
	OrganizationID int32
	ThreadID       int32
	Subject        string
	Snippet        string
	Body           string
	SentTs         int64
	CreatedTs      int64
	UpdatedTs      int64
}

// Thread is a conversation of messages.
type Thread struct {
	ID             int32
	UID            string
	AccountID      int32
	OrganizationID int32
	Subject        string
	Snippet        string
	MessageCount   int32
	LastMessageTs  int64
	CreatedTs      int64
	UpdatedTs      int64
}

// ClaimKind classifies an extracted claim.
type ClaimKind string

const (
	ClaimKindClaim      ClaimKind = "claim"
	ClaimKindCommitment ClaimKind = "commitment"
	ClaimKindDecision   ClaimKind = "decision"
)

// Claim is a statement extracted from a message by the external LLM pipeline.
type Claim struct {
	ID             int32
	UID            string
	AccountID      int32
	OrganizationID int32
	MessageID      int32
	ThreadID       int32
	Kind           ClaimKind
	Text           string
	Confidence     float64
	CreatedTs      int64
	UpdatedTs      int64
}

// Entity is the tagged union over the three entity kinds. Exactly one of the
// pointers is set, matching Kind.
type Entity struct {
	Kind    EntityKind
	Message *Message
	Thread  *Thread
	Claim   *Claim
}

// ID returns the entity's primary key.
func (e *Entity) ID() int32 {
	switch e.Kind {
	case EntityKindMessage:
		return e.Message.ID
	case EntityKindThread:
		return e.Thread.ID
	case EntityKindClaim:
		return e.Claim.ID
	}
	return 0
}

// UID returns the entity's external identifier.
func (e *Entity) UID() string {
	switch e.Kind {
	case EntityKindMessage:
		return e.Message.UID
	case EntityKindThread:
		return e.Thread.UID
	case EntityKindClaim:
		return e.Claim.UID
	}
	return ""
}

// SearchText returns the textual projection used for keyword ranking:
// subject, snippet and body for messages; subject and snippet for threads;
// the extracted text for claims.
func (e *Entity) SearchText() string {
	switch e.Kind {
	case EntityKindMessage:
		return e.Message.Subject + "\n" + e.Message.Snippet + "\n" + e.Message.Body
	case EntityKindThread:
		return e.Thread.Subject + "\n" + e.Thread.Snippet
	case EntityKindClaim:
		return e.Claim.Text
	}
	return ""
}

// ScopeFilter restricts a search to an account/organization scope.
// Empty fields place no restriction.
type ScopeFilter struct {
	AccountIDs     []int32
	ThreadIDs      []int32
	OrganizationID *int32
}

// IsEmpty reports whether the filter places no restriction at all.
func (f *ScopeFilter) IsEmpty() bool {
	return f == nil || (len(f.AccountIDs) == 0 && len(f.ThreadIDs) == 0 && f.OrganizationID == nil)
}

// Matches reports whether the entity passes the filter.
func (f *ScopeFilter) Matches(e *Entity) bool {
	if f.IsEmpty() {
		return true
	}

	var accountID, orgID, threadID int32
	switch e.Kind {
	case EntityKindMessage:
		accountID, orgID, threadID = e.Message.AccountID, e.Message.OrganizationID, e.Message.ThreadID
	case EntityKindThread:
		accountID, orgID, threadID = e.Thread.AccountID, e.Thread.OrganizationID, e.Thread.ID
	case EntityKindClaim:
		accountID, orgID, threadID = e.Claim.AccountID, e.Claim.OrganizationID, e.Claim.ThreadID
	}

	if len(f.AccountIDs) > 0 && !containsID(f.AccountIDs, accountID) {
		return false
	}
	if len(f.ThreadIDs) > 0 && !containsID(f.ThreadIDs, threadID) {
		return false
	}
	if f.OrganizationID != nil && orgID != *f.OrganizationID {
		return false
	}
	return true
}

func containsID(ids []int32, id int32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// NewUID generates a short unique identifier for an entity.
func NewUID() string {
	return shortuuid.New()
}

// FindMessage is the find condition for messages.
type FindMessage struct {
	ID        *int32
	ThreadID  *int32
	AccountID *int32
	Limit     *int
}

// FindThread is the find condition for threads.
type FindThread struct {
	ID        *int32
	AccountID *int32
	Limit     *int
}

// FindClaim is the find condition for claims.
type FindClaim struct {
	ID        *int32
	MessageID *int32
	ThreadID  *int32
	AccountID *int32
	Limit     *int
}
