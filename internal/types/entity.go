package types

import "fmt"

// EntityCategory classifies a data entity by its role in the data model.
type EntityCategory string

// Entity category constants, matching the values the metadata feed reports.
const (
	CategoryMaster        EntityCategory = "Master"
	CategoryTransaction   EntityCategory = "Transaction"
	CategoryDocument      EntityCategory = "Document"
	CategoryReference     EntityCategory = "Reference"
	CategoryParameter     EntityCategory = "Parameters"
	CategoryMiscellaneous EntityCategory = "Miscellaneous"
)

// IsValid checks if the category value is one the feed can report.
// An empty category is allowed: older environments omit it.
func (c EntityCategory) IsValid() bool {
	switch c {
	case "", CategoryMaster, CategoryTransaction, CategoryDocument,
		CategoryReference, CategoryParameter, CategoryMiscellaneous:
		return true
	}
	return false
}

// DataEntity is the summary row from the DataEntities metadata feed.
type DataEntity struct {
	Name                  string         `json:"name"`
	PublicEntityName      string         `json:"public_entity_name,omitempty"`
	PublicCollectionName  string         `json:"public_collection_name,omitempty"`
	LabelID               string         `json:"label_id,omitempty"`
	LabelText             string         `json:"label_text,omitempty"`
	DataServiceEnabled    bool           `json:"data_service_enabled"`
	DataManagementEnabled bool           `json:"data_management_enabled"`
	EntityCategory        EntityCategory `json:"entity_category,omitempty"`
	IsReadOnly            bool           `json:"is_read_only"`
}

// PublicEntity is the full schema row from the PublicEntities metadata feed,
// including properties, navigations, and bound actions.
type PublicEntity struct {
	Name                 string               `json:"name"`
	EntitySetName        string               `json:"entity_set_name"`
	LabelID              string               `json:"label_id,omitempty"`
	LabelText            string               `json:"label_text,omitempty"`
	IsReadOnly           bool                 `json:"is_read_only"`
	ConfigurationEnabled bool                 `json:"configuration_enabled"`
	Properties           []EntityProperty     `json:"properties,omitempty"`
	NavigationProperties []NavigationProperty `json:"navigation_properties,omitempty"`
	PropertyGroups       []PropertyGroup      `json:"property_groups,omitempty"`
	Actions              []EntityAction       `json:"actions,omitempty"`
}

// KeyProperties returns the names of the entity's key fields in order.
func (e *PublicEntity) KeyProperties() []string {
	var keys []string
	for _, p := range e.Properties {
		if p.IsKey {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// EntityProperty is one field of a public entity.
type EntityProperty struct {
	Name                   string `json:"name"`
	TypeName               string `json:"type_name,omitempty"`
	DataType               string `json:"data_type,omitempty"`
	OdataXppType           string `json:"odata_xpp_type,omitempty"`
	LabelID                string `json:"label_id,omitempty"`
	LabelText              string `json:"label_text,omitempty"`
	IsKey                  bool   `json:"is_key"`
	IsMandatory            bool   `json:"is_mandatory"`
	ConfigurationEnabled   bool   `json:"configuration_enabled"`
	AllowEdit              bool   `json:"allow_edit"`
	AllowEditOnCreate      bool   `json:"allow_edit_on_create"`
	IsDimension            bool   `json:"is_dimension"`
	DimensionRelation      string `json:"dimension_relation,omitempty"`
	IsDynamicFieldProperty bool   `json:"is_dynamic_field_property"`
	GroupName              string `json:"group_name,omitempty"`
	Order                  int    `json:"order,omitempty"`
}

// PropertyGroup names a display grouping of entity properties.
type PropertyGroup struct {
	Name       string   `json:"name"`
	Properties []string `json:"properties,omitempty"`
}

// Cardinality describes the multiplicity of a navigation property.
type Cardinality string

// Navigation cardinality constants
const (
	CardinalitySingle   Cardinality = "Single"
	CardinalityMultiple Cardinality = "Multiple"
)

// NavigationProperty is a relation from one public entity to another.
type NavigationProperty struct {
	Name                string               `json:"name"`
	RelatedEntity       string               `json:"related_entity"`
	RelatedRelationName string               `json:"related_relation_name,omitempty"`
	Cardinality         Cardinality          `json:"cardinality"`
	Constraints         []RelationConstraint `json:"constraints,omitempty"`
}

// ConstraintType discriminates the relation constraint variants.
type ConstraintType string

// Relation constraint type constants
const (
	ConstraintReferential ConstraintType = "Referential"
	ConstraintFixed       ConstraintType = "Fixed"
	ConstraintRelated     ConstraintType = "Related"
)

// RelationConstraint is one join or filter condition on a navigation.
// Referential uses Property/ReferencedProperty, Fixed uses Property plus
// Value or ValueStr, Related uses Property/RelatedProperty.
type RelationConstraint struct {
	ConstraintType     ConstraintType `json:"constraint_type"`
	Property           string         `json:"property,omitempty"`
	ReferencedProperty string         `json:"referenced_property,omitempty"`
	RelatedProperty    string         `json:"related_property,omitempty"`
	Value              *int           `json:"value,omitempty"`
	ValueStr           string         `json:"value_str,omitempty"`
}

// BindingKind says how an OData action is attached.
type BindingKind string

// Action binding constants
const (
	BindingUnbound          BindingKind = "Unbound"
	BindingBoundToEntitySet BindingKind = "BoundToEntitySet"
	BindingBoundToEntity    BindingKind = "BoundToEntity"
)

// IsValid checks if the binding kind is one of the known variants.
func (b BindingKind) IsValid() bool {
	switch b {
	case BindingUnbound, BindingBoundToEntitySet, BindingBoundToEntity:
		return true
	}
	return false
}

// EntityAction is an OData action exposed by the environment.
type EntityAction struct {
	Name          string            `json:"name"`
	BindingKind   BindingKind       `json:"binding_kind"`
	EntityName    string            `json:"entity_name,omitempty"`
	EntitySetName string            `json:"entity_set_name,omitempty"`
	Parameters    []ActionParameter `json:"parameters,omitempty"`
	ReturnType    *ActionReturnType `json:"return_type,omitempty"`
	FieldLookup   string            `json:"field_lookup,omitempty"`
}

// ActionParameter is one parameter of an entity action.
type ActionParameter struct {
	Name  string            `json:"name"`
	Type  ParameterTypeInfo `json:"type"`
	Order int               `json:"order,omitempty"`
}

// ParameterTypeInfo carries the OData type of a parameter or return value.
type ParameterTypeInfo struct {
	TypeName     string `json:"type_name"`
	IsCollection bool   `json:"is_collection,omitempty"`
}

// ActionReturnType is the declared return of an entity action.
type ActionReturnType struct {
	TypeName     string `json:"type_name"`
	IsCollection bool   `json:"is_collection,omitempty"`
}

// Enumeration is one enum type with its members.
type Enumeration struct {
	Name      string              `json:"name"`
	LabelID   string              `json:"label_id,omitempty"`
	LabelText string              `json:"label_text,omitempty"`
	Members   []EnumerationMember `json:"members,omitempty"`
}

// EnumerationMember is one value of an enumeration.
type EnumerationMember struct {
	Name                 string `json:"name"`
	Value                int    `json:"value"`
	LabelID              string `json:"label_id,omitempty"`
	LabelText            string `json:"label_text,omitempty"`
	ConfigurationEnabled bool   `json:"configuration_enabled"`
	Order                int    `json:"order,omitempty"`
}

// EntityKind discriminates the Entity variant.
type EntityKind string

// Entity kind constants
const (
	KindData   EntityKind = "data"
	KindPublic EntityKind = "public"
)

// Entity is a tagged union over the two entity shapes. Exactly one of Data
// or Public is set, matching Kind. Callers branch on Kind instead of
// sniffing fields.
type Entity struct {
	Kind   EntityKind    `json:"kind"`
	Data   *DataEntity   `json:"data,omitempty"`
	Public *PublicEntity `json:"public,omitempty"`
}

// Name returns the entity name regardless of kind.
func (e *Entity) Name() string {
	switch e.Kind {
	case KindData:
		if e.Data != nil {
			return e.Data.Name
		}
	case KindPublic:
		if e.Public != nil {
			return e.Public.Name
		}
	}
	return ""
}

// Validate checks the variant is well formed: Kind set and the matching
// payload present, the other absent.
func (e *Entity) Validate() error {
	switch e.Kind {
	case KindData:
		if e.Data == nil {
			return fmt.Errorf("entity kind %q without data payload", e.Kind)
		}
		if e.Public != nil {
			return fmt.Errorf("entity kind %q carries a public payload", e.Kind)
		}
	case KindPublic:
		if e.Public == nil {
			return fmt.Errorf("entity kind %q without public payload", e.Kind)
		}
		if e.Data != nil {
			return fmt.Errorf("entity kind %q carries a data payload", e.Kind)
		}
	default:
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	return nil
}

// DataEntityOf wraps a data entity in the tagged variant.
func DataEntityOf(d *DataEntity) *Entity {
	return &Entity{Kind: KindData, Data: d}
}

// PublicEntityOf wraps a public entity in the tagged variant.
func PublicEntityOf(p *PublicEntity) *Entity {
	return &Entity{Kind: KindPublic, Public: p}
}
