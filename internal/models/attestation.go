package models

// Attestation is the registry's record for one uid, read-only to this service.
// Time fields are unix seconds; zero means unset (no expiration, not revoked).
type Attestation struct {
	UID            UID     `json:"uid"`
	Schema         UID     `json:"schema"`
	Time           uint64  `json:"time"`
	ExpirationTime uint64  `json:"expiration_time"`
	RevocationTime uint64  `json:"revocation_time"`
	RefUID         UID     `json:"ref_uid"`
	Recipient      Address `json:"recipient"`
	Attester       Address `json:"attester"`
	Revocable      bool    `json:"revocable"`
	Data           []byte  `json:"data"`
}

// TaskClaim is the structured payload carried inside a task-completion
// attestation. Decoded only for binding checks during release; never stored.
type TaskClaim struct {
	TaskID       uint64  `json:"task_id"`
	QualityScore uint8   `json:"quality_score"`
	Comment      string  `json:"comment"`
	Worker       Address `json:"worker"`
	Client       Address `json:"client"`
}
