// Package model defines the records kept in the persistent local store.
package model

import "encoding/json"

// ItineraryStatus tracks whether an itinerary still needs to reach the server.
type ItineraryStatus string

const (
	ItineraryDraft       ItineraryStatus = "draft"        // local only, never synced
	ItinerarySyncPending ItineraryStatus = "sync_pending" // modified locally since the last confirmed sync
	ItinerarySynced      ItineraryStatus = "synced"       // matches the server as of the last round trip
)

// Valid reports whether s is a known itinerary status.
func (s ItineraryStatus) Valid() bool {
	switch s {
	case ItineraryDraft, ItinerarySyncPending, ItinerarySynced:
		return true
	}
	return false
}

// Itinerary is a trip plan created or edited on this device.
type Itinerary struct {
	// ID is a ULID generated locally
	ID string `json:"id"`

	Destination string `json:"destination"`

	// StartDate and EndDate are calendar dates (YYYY-MM-DD)
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	Budget float64 `json:"budget"`

	// Preferences are free-form tags (e.g. "museums", "hiking")
	Preferences []string `json:"preferences,omitempty"`

	// Payload is the structured plan body; opaque to the sync layer
	Payload json.RawMessage `json:"payload,omitempty"`

	Status ItineraryStatus `json:"status"`

	// Revision increments on every local write. The sync path uses it to
	// detect edits made while a sync round trip was in flight.
	Revision int64 `json:"revision"`

	// CreatedAt and UpdatedAt are unix milliseconds
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// StatusForPut returns the status to persist when rec is written over
// existing (nil for a brand-new record). Writing "synced" over an existing
// record is a local mutation, so it lands as sync_pending.
func StatusForPut(incoming ItineraryStatus, existing *Itinerary) ItineraryStatus {
	if incoming == "" {
		incoming = ItinerarySyncPending
	}
	if incoming == ItinerarySynced && existing != nil {
		return ItinerarySyncPending
	}
	return incoming
}
