package syncer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Metadata API feed paths, relative to the environment's data root.
const (
	pathDataEntities   = "Metadata/DataEntities"
	pathPublicEntities = "Metadata/PublicEntities"
	pathEnumerations   = "Metadata/PublicEnumerations"
)

// The metadata feeds speak PascalCase; the wire structs isolate that shape
// from the domain types.

type wireDataEntity struct {
	Name                  string `json:"Name"`
	PublicEntityName      string `json:"PublicEntityName"`
	PublicCollectionName  string `json:"PublicCollectionName"`
	LabelID               string `json:"LabelId"`
	DataServiceEnabled    bool   `json:"DataServiceEnabled"`
	DataManagementEnabled bool   `json:"DataManagementEnabled"`
	EntityCategory        string `json:"EntityCategory"`
	IsReadOnly            bool   `json:"IsReadOnly"`
}

type wirePublicEntity struct {
	Name                 string              `json:"Name"`
	EntitySetName        string              `json:"EntitySetName"`
	LabelID              string              `json:"LabelId"`
	IsReadOnly           bool                `json:"IsReadOnly"`
	ConfigurationEnabled bool                `json:"ConfigurationEnabled"`
	Properties           []wireProperty      `json:"Properties"`
	NavigationProperties []wireNavigation    `json:"NavigationProperties"`
	PropertyGroups       []wirePropertyGroup `json:"PropertyGroups"`
	Actions              []wireAction        `json:"Actions"`
}

type wireProperty struct {
	Name                   string `json:"Name"`
	TypeName               string `json:"TypeName"`
	DataType               string `json:"DataType"`
	OdataXppType           string `json:"OdataXppType"`
	LabelID                string `json:"LabelId"`
	IsKey                  bool   `json:"IsKey"`
	IsMandatory            bool   `json:"IsMandatory"`
	ConfigurationEnabled   bool   `json:"ConfigurationEnabled"`
	AllowEdit              bool   `json:"AllowEdit"`
	AllowEditOnCreate      bool   `json:"AllowEditOnCreate"`
	IsDimension            bool   `json:"IsDimension"`
	DimensionRelation      string `json:"DimensionRelation"`
	IsDynamicFieldProperty bool   `json:"IsDynamicFieldProperty"`
	GroupName              string `json:"GroupName"`
	Order                  int    `json:"Order"`
}

type wireNavigation struct {
	Name                string           `json:"Name"`
	RelatedEntity       string           `json:"RelatedEntity"`
	RelatedRelationName string           `json:"RelatedRelationName"`
	Cardinality         string           `json:"Cardinality"`
	Constraints         []wireConstraint `json:"Constraints"`
}

// wireConstraint carries every variant's fields; the @odata.type
// discriminator says which apply.
type wireConstraint struct {
	ODataType          string `json:"@odata.type"`
	Property           string `json:"Property"`
	ReferencedProperty string `json:"ReferencedProperty"`
	RelatedProperty    string `json:"RelatedProperty"`
	Value              *int   `json:"Value"`
	ValueStr           string `json:"ValueStr"`
}

type wirePropertyGroup struct {
	Name       string   `json:"Name"`
	Properties []string `json:"Properties"`
}

type wireAction struct {
	Name        string          `json:"Name"`
	BindingKind string          `json:"BindingKind"`
	EntityName  string          `json:"EntityName"`
	Parameters  []wireParameter `json:"Parameters"`
	ReturnType  *wireTypeInfo   `json:"ReturnType"`
	FieldLookup string          `json:"FieldLookup"`
}

type wireParameter struct {
	Name string       `json:"Name"`
	Type wireTypeInfo `json:"Type"`
}

type wireTypeInfo struct {
	TypeName     string `json:"TypeName"`
	IsCollection bool   `json:"IsCollection"`
}

type wireEnumeration struct {
	Name    string       `json:"Name"`
	LabelID string       `json:"LabelId"`
	Members []wireMember `json:"Members"`
}

type wireMember struct {
	Name                 string `json:"Name"`
	Value                int    `json:"Value"`
	LabelID              string `json:"LabelId"`
	ConfigurationEnabled bool   `json:"ConfigurationEnabled"`
}

// FetchDataEntities drains the DataEntities feed. Items that fail to parse
// are logged and skipped; the skip count comes back for error accounting.
func FetchDataEntities(ctx context.Context, client odata.Client) ([]*types.DataEntity, int, error) {
	pager := odata.NewPager(client, pathDataEntities, nil)
	var out []*types.DataEntity
	skipped := 0
	for pager.More() {
		items, err := pager.Next(ctx)
		if err != nil {
			return nil, skipped, err
		}
		for _, raw := range items {
			var w wireDataEntity
			if err := json.Unmarshal(raw, &w); err != nil || w.Name == "" {
				debug.Logf("sync: skip malformed data entity row: %v", err)
				skipped++
				continue
			}
			out = append(out, &types.DataEntity{
				Name:                  w.Name,
				PublicEntityName:      w.PublicEntityName,
				PublicCollectionName:  w.PublicCollectionName,
				LabelID:               w.LabelID,
				DataServiceEnabled:    w.DataServiceEnabled,
				DataManagementEnabled: w.DataManagementEnabled,
				EntityCategory:        types.EntityCategory(w.EntityCategory),
				IsReadOnly:            w.IsReadOnly,
			})
		}
	}
	return out, skipped, nil
}

// FetchPublicEntity fetches one full schema by public entity name.
func FetchPublicEntity(ctx context.Context, client odata.Client, name string) (*types.PublicEntity, error) {
	path := pathPublicEntities + "('" + strings.ReplaceAll(name, "'", "''") + "')"
	payload, err := client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	var w wirePublicEntity
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, types.WrapError(types.ErrParse, err, "decode public entity %s", name)
	}
	if w.Name == "" {
		return nil, types.NewError(types.ErrParse, "public entity %s: empty schema", name)
	}
	return convertPublicEntity(&w), nil
}

// FetchEnumerations drains the PublicEnumerations feed.
func FetchEnumerations(ctx context.Context, client odata.Client) ([]*types.Enumeration, int, error) {
	pager := odata.NewPager(client, pathEnumerations, nil)
	var out []*types.Enumeration
	skipped := 0
	for pager.More() {
		items, err := pager.Next(ctx)
		if err != nil {
			return nil, skipped, err
		}
		for _, raw := range items {
			var w wireEnumeration
			if err := json.Unmarshal(raw, &w); err != nil || w.Name == "" {
				debug.Logf("sync: skip malformed enumeration row: %v", err)
				skipped++
				continue
			}
			e := &types.Enumeration{Name: w.Name, LabelID: w.LabelID}
			for i, m := range w.Members {
				e.Members = append(e.Members, types.EnumerationMember{
					Name:                 m.Name,
					Value:                m.Value,
					LabelID:              m.LabelID,
					ConfigurationEnabled: m.ConfigurationEnabled,
					Order:                i,
				})
			}
			out = append(out, e)
		}
	}
	return out, skipped, nil
}

func convertPublicEntity(w *wirePublicEntity) *types.PublicEntity {
	e := &types.PublicEntity{
		Name:                 w.Name,
		EntitySetName:        w.EntitySetName,
		LabelID:              w.LabelID,
		IsReadOnly:           w.IsReadOnly,
		ConfigurationEnabled: w.ConfigurationEnabled,
	}
	for i, p := range w.Properties {
		order := p.Order
		if order == 0 {
			order = i
		}
		e.Properties = append(e.Properties, types.EntityProperty{
			Name:                   p.Name,
			TypeName:               p.TypeName,
			DataType:               p.DataType,
			OdataXppType:           p.OdataXppType,
			LabelID:                p.LabelID,
			IsKey:                  p.IsKey,
			IsMandatory:            p.IsMandatory,
			ConfigurationEnabled:   p.ConfigurationEnabled,
			AllowEdit:              p.AllowEdit,
			AllowEditOnCreate:      p.AllowEditOnCreate,
			IsDimension:            p.IsDimension,
			DimensionRelation:      p.DimensionRelation,
			IsDynamicFieldProperty: p.IsDynamicFieldProperty,
			GroupName:              p.GroupName,
			Order:                  order,
		})
	}
	for _, n := range w.NavigationProperties {
		nav := types.NavigationProperty{
			Name:                n.Name,
			RelatedEntity:       n.RelatedEntity,
			RelatedRelationName: n.RelatedRelationName,
			Cardinality:         types.Cardinality(n.Cardinality),
		}
		for _, c := range n.Constraints {
			nav.Constraints = append(nav.Constraints, types.RelationConstraint{
				ConstraintType:     constraintTypeOf(c.ODataType),
				Property:           c.Property,
				ReferencedProperty: c.ReferencedProperty,
				RelatedProperty:    c.RelatedProperty,
				Value:              c.Value,
				ValueStr:           c.ValueStr,
			})
		}
		e.NavigationProperties = append(e.NavigationProperties, nav)
	}
	for _, g := range w.PropertyGroups {
		e.PropertyGroups = append(e.PropertyGroups, types.PropertyGroup{
			Name:       g.Name,
			Properties: g.Properties,
		})
	}
	for _, a := range w.Actions {
		action := types.EntityAction{
			Name:          a.Name,
			BindingKind:   bindingKindOf(a.BindingKind),
			EntityName:    e.Name,
			EntitySetName: e.EntitySetName,
			FieldLookup:   a.FieldLookup,
		}
		for i, p := range a.Parameters {
			action.Parameters = append(action.Parameters, types.ActionParameter{
				Name:  p.Name,
				Type:  types.ParameterTypeInfo{TypeName: p.Type.TypeName, IsCollection: p.Type.IsCollection},
				Order: i,
			})
		}
		if a.ReturnType != nil {
			action.ReturnType = &types.ActionReturnType{
				TypeName:     a.ReturnType.TypeName,
				IsCollection: a.ReturnType.IsCollection,
			}
		}
		e.Actions = append(e.Actions, action)
	}
	return e
}

// constraintTypeOf maps the @odata.type discriminator to the variant. The
// wire value looks like "#Microsoft.Dynamics.Metadata.ReferentialConstraintMetadata".
func constraintTypeOf(odataType string) types.ConstraintType {
	switch {
	case strings.Contains(odataType, "Referential"):
		return types.ConstraintReferential
	case strings.Contains(odataType, "Fixed"):
		return types.ConstraintFixed
	case strings.Contains(odataType, "Related"):
		return types.ConstraintRelated
	}
	return types.ConstraintReferential
}

func bindingKindOf(wire string) types.BindingKind {
	if k := types.BindingKind(wire); k.IsValid() {
		return k
	}
	return types.BindingUnbound
}
