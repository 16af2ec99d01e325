package storage

import "github.com/google/uuid"

// PlayerSaveOutcome is a bit flag describing one effect of a SavePlayerData
// call. Outcomes compose: a username change can coincide with stripping the
// username from other identities.
type PlayerSaveOutcome int

const (
	// OutcomeCleanInsert: no mapping existed for the identity; one was
	// created.
	OutcomeCleanInsert PlayerSaveOutcome = 1 << iota
	// OutcomeNoChange: the stored username already matched.
	OutcomeNoChange
	// OutcomeUsernameUpdated: the identity's stored username was replaced.
	OutcomeUsernameUpdated
	// OutcomeOtherUniqueIDsPresent: other identities were mapped to the
	// (now-claimed) username and had their mappings removed.
	OutcomeOtherUniqueIDsPresent
)

// PlayerSaveResult reports the effects of one SavePlayerData call.
type PlayerSaveResult struct {
	// Outcomes is the set of effects which occurred.
	Outcomes PlayerSaveOutcome
	// PreviousUsername is the replaced username, set with
	// OutcomeUsernameUpdated.
	PreviousUsername string
	// OtherUniqueIDs are the identities stripped of the username, set with
	// OutcomeOtherUniqueIDsPresent.
	OtherUniqueIDs []uuid.UUID
}

// Includes returns whether |outcome| occurred.
func (r PlayerSaveResult) Includes(outcome PlayerSaveOutcome) bool {
	return r.Outcomes&outcome != 0
}

// DeterminePlayerSaveResult computes the base result of saving |username|
// over a prior mapping. |oldUsername| is empty when no mapping existed.
func DeterminePlayerSaveResult(username, oldUsername string) PlayerSaveResult {
	if oldUsername == "" {
		return PlayerSaveResult{Outcomes: OutcomeCleanInsert}
	} else if username == oldUsername {
		return PlayerSaveResult{Outcomes: OutcomeNoChange}
	}
	return PlayerSaveResult{
		Outcomes:         OutcomeUsernameUpdated,
		PreviousUsername: oldUsername,
	}
}

// WithOtherUniqueIDs extends the result with stripped identities.
func (r PlayerSaveResult) WithOtherUniqueIDs(ids []uuid.UUID) PlayerSaveResult {
	r.Outcomes |= OutcomeOtherUniqueIDsPresent
	r.OtherUniqueIDs = ids
	return r
}
