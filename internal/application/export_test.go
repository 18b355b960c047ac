package application

import "time"

// OverrideNow swaps the token service clock for tests.
func (s *TokenService) OverrideNow(now func() time.Time) {
	s.now = now
}
