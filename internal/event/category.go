package event

import (
	"sort"
	"strings"
)

// Known category prefixes used by compositor events.
const (
	CategoryView      = "view-"
	CategoryPlugin    = "plugin-"
	CategoryOutput    = "output-"
	CategoryWorkspace = "workspace-"
)

// Category returns the prefix of eventType up to and including its
// first "-", or "" when eventType has none.
//
// Example: "view-focused" -> "view-"
func Category(eventType string) string {
	idx := strings.IndexByte(eventType, '-')
	if idx < 0 {
		return ""
	}
	return eventType[:idx+1]
}

// SetCategoryHandler installs the handler for a category prefix,
// replacing any existing one. At most one category handler fires per
// Event, after its direct subscriptions.
func (b *Bus) SetCategoryHandler(prefix string, h Handler) error {
	if prefix == "" || !strings.HasSuffix(prefix, "-") || strings.IndexByte(prefix, '-') != len(prefix)-1 {
		return ErrInvalidPrefix
	}
	if h == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	b.categories[prefix] = h
	b.mu.Unlock()
	return nil
}

// RemoveCategoryHandler removes the handler for prefix and reports
// whether one was installed.
func (b *Bus) RemoveCategoryHandler(prefix string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.categories[prefix]; !ok {
		return false
	}
	delete(b.categories, prefix)
	return true
}

// Categories returns the installed category prefixes, sorted.
func (b *Bus) Categories() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.categories))
	for prefix := range b.categories {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}
