package types

import "time"

// DefaultLanguage is the fallback language for label resolution.
const DefaultLanguage = "en-US"

// Label is one resolved label text in one language.
type Label struct {
	ID         string     `json:"id"`
	Language   string     `json:"language"`
	Value      string     `json:"value"`
	ResolvedAt time.Time  `json:"resolved_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// IsLabelID reports whether s looks like an unresolved label reference.
// F&O label ids start with "@" (for example "@SYS12345" or "@GLS:Form").
func IsLabelID(s string) bool {
	return len(s) > 1 && s[0] == '@'
}

// LabelHolder is anything that carries a label id and can receive the
// resolved text. All label-bearing metadata types implement it.
type LabelHolder interface {
	GetLabelID() string
	SetLabelText(text string)
}

// LabelContainer is a LabelHolder whose children also carry labels.
// Walkers use it to collect every label id in a metadata graph without
// knowing the concrete shapes.
type LabelContainer interface {
	LabelChildren() []LabelHolder
}

// GetLabelID implements LabelHolder.
func (d *DataEntity) GetLabelID() string { return d.LabelID }

// SetLabelText implements LabelHolder.
func (d *DataEntity) SetLabelText(text string) { d.LabelText = text }

// GetLabelID implements LabelHolder.
func (p *PublicEntity) GetLabelID() string { return p.LabelID }

// SetLabelText implements LabelHolder.
func (p *PublicEntity) SetLabelText(text string) { p.LabelText = text }

// LabelChildren implements LabelContainer, exposing the entity's properties.
func (p *PublicEntity) LabelChildren() []LabelHolder {
	children := make([]LabelHolder, 0, len(p.Properties))
	for i := range p.Properties {
		children = append(children, &p.Properties[i])
	}
	return children
}

// GetLabelID implements LabelHolder.
func (p *EntityProperty) GetLabelID() string { return p.LabelID }

// SetLabelText implements LabelHolder.
func (p *EntityProperty) SetLabelText(text string) { p.LabelText = text }

// GetLabelID implements LabelHolder.
func (e *Enumeration) GetLabelID() string { return e.LabelID }

// SetLabelText implements LabelHolder.
func (e *Enumeration) SetLabelText(text string) { e.LabelText = text }

// LabelChildren implements LabelContainer, exposing the enum's members.
func (e *Enumeration) LabelChildren() []LabelHolder {
	children := make([]LabelHolder, 0, len(e.Members))
	for i := range e.Members {
		children = append(children, &e.Members[i])
	}
	return children
}

// GetLabelID implements LabelHolder.
func (m *EnumerationMember) GetLabelID() string { return m.LabelID }

// SetLabelText implements LabelHolder.
func (m *EnumerationMember) SetLabelText(text string) { m.LabelText = text }

// Compile-time interface checks.
var (
	_ LabelHolder    = (*DataEntity)(nil)
	_ LabelHolder    = (*PublicEntity)(nil)
	_ LabelHolder    = (*EntityProperty)(nil)
	_ LabelHolder    = (*Enumeration)(nil)
	_ LabelHolder    = (*EnumerationMember)(nil)
	_ LabelContainer = (*PublicEntity)(nil)
	_ LabelContainer = (*Enumeration)(nil)
)
