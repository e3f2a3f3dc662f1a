package ports

import "github.com/veloxgate/veloxgate/internal/core/domain"

// Filter is the source-address blacklist contract, aliased here so
// adapters and the acceptor depend on ports rather than domain directly.
type Filter = domain.AddressFilter
