package ports

import "github.com/veloxgate/veloxgate/internal/core/domain"

// HealthChecker is re-exported here so the router and proxy packages depend
// on ports, not domain, for the active-probing contract.
type HealthChecker = domain.HealthChecker
