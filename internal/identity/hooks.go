package identity

import "context"

// Hook lets the host application participate in attribute fetches.
// Hooks are supplied as an explicit ordered list at construction and
// are called in order; there is no global registry.
type Hook interface {
	// BeforeRead returns additional attribute names to include in the
	// identity's combined first fetch. It is consulted once per
	// identity.
	BeforeRead(ctx context.Context, dn string) ([]string, error)

	// AfterRead observes fetched attributes. Returning false vetoes
	// the operation (the caller receives a cancelled-by-hook error).
	AfterRead(ctx context.Context, dn string, attrs map[string][]string) (bool, error)
}

// HookFuncs adapts plain functions to the Hook interface. Either
// field may be nil.
type HookFuncs struct {
	Before func(ctx context.Context, dn string) ([]string, error)
	After  func(ctx context.Context, dn string, attrs map[string][]string) (bool, error)
}

func (h HookFuncs) BeforeRead(ctx context.Context, dn string) ([]string, error) {
	if h.Before == nil {
		return nil, nil
	}
	return h.Before(ctx, dn)
}

func (h HookFuncs) AfterRead(ctx context.Context, dn string, attrs map[string][]string) (bool, error) {
	if h.After == nil {
		return true, nil
	}
	return h.After(ctx, dn, attrs)
}
