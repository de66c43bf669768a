package storage

// SetApprovedClaim stores the audit record of an accepted identity claim.
// Re-verification of the same subject overwrites the previous record.
func (s *Storage) SetApprovedClaim(claim *ApprovedClaim) error {
	return s.setArtifact(claimPrefix, []byte(claim.SubjectID), claim)
}

// ApprovedClaim loads the audit record of a subject. Returns ErrNotFound if
// the subject was never approved.
func (s *Storage) ApprovedClaim(subjectID string) (*ApprovedClaim, error) {
	var claim ApprovedClaim
	if err := s.getArtifact(claimPrefix, []byte(subjectID), &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}
