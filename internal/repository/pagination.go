package repository

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// PageRequest is an offset/limit window over a filtered result set.
type PageRequest struct {
	Offset int
	Limit  int
}

func normalizePageRequest(p PageRequest) PageRequest {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}
