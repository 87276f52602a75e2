package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/rustyrobot/rustyrobot/search"
	"github.com/rustyrobot/rustyrobot/types"
)

// Request is the union of commands the github worker executes. Exactly one
// variant is set.
//
// On the wire a request is externally tagged: a variant with a payload
// serializes as a single-key object like {"Fork": {...}}, a variant without
// one as the bare variant name string.
type Request struct {
	Fetch              *search.Query
	Fork               *types.Repository
	DeleteFork         *types.Repository
	CreatePR           *CreatePR
	FetchNotifications bool
	CheckPRStatus      *types.Repository
}

// CreatePR asks the worker to open a pull request from branch onto the
// repository's default branch.
type CreatePR struct {
	Repo    types.Repository `json:"repo"`
	Branch  string           `json:"branch"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
}

// MarshalJSON renders the externally tagged form.
func (r Request) MarshalJSON() ([]byte, error) {
	switch {
	case r.Fetch != nil:
		return taggedVariant("Fetch", r.Fetch)
	case r.Fork != nil:
		return taggedVariant("Fork", r.Fork)
	case r.DeleteFork != nil:
		return taggedVariant("DeleteFork", r.DeleteFork)
	case r.CreatePR != nil:
		return taggedVariant("CreatePR", r.CreatePR)
	case r.FetchNotifications:
		return json.Marshal("FetchNotifications")
	case r.CheckPRStatus != nil:
		return taggedVariant("CheckPRStatus", r.CheckPRStatus)
	}
	return nil, fmt.Errorf("request has no variant set")
}

// UnmarshalJSON parses the externally tagged form.
func (r *Request) UnmarshalJSON(data []byte) error {
	*r = Request{}

	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit == "FetchNotifications" {
			r.FetchNotifications = true
			return nil
		}
		return fmt.Errorf("unknown request variant %q", unit)
	}

	tag, payload, err := splitTagged(data)
	if err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}

	switch tag {
	case "Fetch":
		r.Fetch = &search.Query{}
		return json.Unmarshal(payload, r.Fetch)
	case "Fork":
		r.Fork = &types.Repository{}
		return json.Unmarshal(payload, r.Fork)
	case "DeleteFork":
		r.DeleteFork = &types.Repository{}
		return json.Unmarshal(payload, r.DeleteFork)
	case "CreatePR":
		r.CreatePR = &CreatePR{}
		return json.Unmarshal(payload, r.CreatePR)
	case "CheckPRStatus":
		r.CheckPRStatus = &types.Repository{}
		return json.Unmarshal(payload, r.CheckPRStatus)
	default:
		return fmt.Errorf("unknown request variant %q", tag)
	}
}

// Event is the union of facts the stages publish onto the event topic.
// Exactly one variant is set; the wire form is externally tagged like
// Request.
type Event struct {
	RepositoryFetched   *types.Repository
	RepositoryForked    *types.Repository
	ForkDeleted         *types.Repository
	RepositoryFormatted *types.Repository
	PRCreated           *types.Repository
	PRStatusChange      *PRStatusChange
	Notification        json.RawMessage
}

// PRStatusChange records a review-state transition of a tracked pull
// request.
type PRStatusChange struct {
	Repo types.Repository `json:"repo"`
	PR   types.PR         `json:"pr"`
}

// Kind returns the variant name, used as the archive bucket by the dumper.
func (e *Event) Kind() string {
	switch {
	case e.RepositoryFetched != nil:
		return "RepositoryFetched"
	case e.RepositoryForked != nil:
		return "RepositoryForked"
	case e.ForkDeleted != nil:
		return "ForkDeleted"
	case e.RepositoryFormatted != nil:
		return "RepositoryFormatted"
	case e.PRCreated != nil:
		return "PRCreated"
	case e.PRStatusChange != nil:
		return "PRStatusChange"
	case e.Notification != nil:
		return "Notification"
	}
	return ""
}

// MarshalJSON renders the externally tagged form.
func (e Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.RepositoryFetched != nil:
		return taggedVariant("RepositoryFetched", e.RepositoryFetched)
	case e.RepositoryForked != nil:
		return taggedVariant("RepositoryForked", e.RepositoryForked)
	case e.ForkDeleted != nil:
		return taggedVariant("ForkDeleted", e.ForkDeleted)
	case e.RepositoryFormatted != nil:
		return taggedVariant("RepositoryFormatted", e.RepositoryFormatted)
	case e.PRCreated != nil:
		return taggedVariant("PRCreated", e.PRCreated)
	case e.PRStatusChange != nil:
		return taggedVariant("PRStatusChange", e.PRStatusChange)
	case e.Notification != nil:
		return taggedVariant("Notification", e.Notification)
	}
	return nil, fmt.Errorf("event has no variant set")
}

// UnmarshalJSON parses the externally tagged form.
func (e *Event) UnmarshalJSON(data []byte) error {
	*e = Event{}

	tag, payload, err := splitTagged(data)
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	switch tag {
	case "RepositoryFetched":
		e.RepositoryFetched = &types.Repository{}
		return json.Unmarshal(payload, e.RepositoryFetched)
	case "RepositoryForked":
		e.RepositoryForked = &types.Repository{}
		return json.Unmarshal(payload, e.RepositoryForked)
	case "ForkDeleted":
		e.ForkDeleted = &types.Repository{}
		return json.Unmarshal(payload, e.ForkDeleted)
	case "RepositoryFormatted":
		e.RepositoryFormatted = &types.Repository{}
		return json.Unmarshal(payload, e.RepositoryFormatted)
	case "PRCreated":
		e.PRCreated = &types.Repository{}
		return json.Unmarshal(payload, e.PRCreated)
	case "PRStatusChange":
		e.PRStatusChange = &PRStatusChange{}
		return json.Unmarshal(payload, e.PRStatusChange)
	case "Notification":
		e.Notification = append(json.RawMessage{}, payload...)
		return nil
	default:
		return fmt.Errorf("unknown event variant %q", tag)
	}
}

func taggedVariant(tag string, payload interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{tag: payload})
}

// splitTagged decomposes a single-key object into its tag and payload.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return "", nil, err
	}
	if len(tagged) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant key, got %d", len(tagged))
	}
	for tag, payload := range tagged {
		return tag, payload, nil
	}
	return "", nil, fmt.Errorf("unreachable")
}
