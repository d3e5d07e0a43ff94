package billing

import "github.com/commercebase/billing/pkg/async"

// SetRunner swaps the async side-effect runner so tests can run
// notifications and auto top-ups inline.
func (s *Service) SetRunner(r async.Runner) { s.run = r }
