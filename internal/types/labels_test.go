package types

import "testing"

func TestPublicEntityLabelChildren(t *testing.T) {
	e := &PublicEntity{
		Name:    "CustCustomerV3Entity",
		LabelID: "@SYS1",
		Properties: []EntityProperty{
			{Name: "CustomerAccount", LabelID: "@SYS2"},
			{Name: "Name", LabelID: "@SYS3"},
		},
	}
	children := e.LabelChildren()
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	// Children must alias the backing slice so assignment sticks.
	children[0].SetLabelText("Customer account")
	if e.Properties[0].LabelText != "Customer account" {
		t.Fatal("child assignment did not reach the property")
	}
}

func TestEnumerationLabelChildren(t *testing.T) {
	e := &Enumeration{
		Name:    "NoYes",
		LabelID: "@SYS9",
		Members: []EnumerationMember{
			{Name: "No", Value: 0, LabelID: "@SYS10"},
			{Name: "Yes", Value: 1, LabelID: "@SYS11"},
		},
	}
	children := e.LabelChildren()
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	children[1].SetLabelText("Yes")
	if e.Members[1].LabelText != "Yes" {
		t.Fatal("child assignment did not reach the member")
	}
}

func TestLabelHolderRoundTrip(t *testing.T) {
	holders := []LabelHolder{
		&DataEntity{LabelID: "@A"},
		&PublicEntity{LabelID: "@B"},
		&EntityProperty{LabelID: "@C"},
		&Enumeration{LabelID: "@D"},
		&EnumerationMember{LabelID: "@E"},
	}
	for i, h := range holders {
		if h.GetLabelID() == "" {
			t.Errorf("holder %d lost its label id", i)
		}
		h.SetLabelText("resolved")
	}
	if holders[0].(*DataEntity).LabelText != "resolved" {
		t.Fatal("SetLabelText did not stick")
	}
}
