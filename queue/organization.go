package queue

// OrganizationConfig limits one organization within one queue. Jobs are
// matched on job.Job.ScopeOrgID.
type OrganizationConfig struct {
	Queue          string
	OrganizationID string
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

func orgKey(queue, orgID string) string { return queue + ":" + orgID }

// SetOrganizationConfig sets or replaces the limits of an organization
// within a queue, keeping its active count.
func (m *Manager) SetOrganizationConfig(cfg OrganizationConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := orgKey(cfg.Queue, cfg.OrganizationID)
	l := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.organizations[key]; existing != nil {
		l.active = existing.active
	}
	m.organizations[key] = l
}

// OrganizationActiveCount returns the running jobs of a limited
// organization within a queue.
func (m *Manager) OrganizationActiveCount(queue, orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.organizations[orgKey(queue, orgID)]; o != nil {
		return o.active
	}
	return 0
}
