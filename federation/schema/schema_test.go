package schema

import "testing"

func TestNewSubGraph_ParsesKeysAndDirectives(t *testing.T) {
	src := []byte(`
		type Query {
			me: User!
		}
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
	`)

	sg, err := NewSubGraph("accounts", src, "accounts.internal:4001")
	if err != nil {
		t.Fatalf("NewSubGraph() error = %v", err)
	}

	entity, ok := sg.Entity("User")
	if !ok {
		t.Fatalf("expected User to be an entity")
	}
	if len(entity.Keys) != 1 || entity.Keys[0].FieldSet != "id" {
		t.Fatalf("unexpected keys: %+v", entity.Keys)
	}
	if !entity.IsResolvable() {
		t.Fatalf("expected User to be resolvable")
	}
}

func TestNewSubGraph_RejectsUnknownKeyField(t *testing.T) {
	src := []byte(`
		type User @key(fields: "id sku") {
			id: ID!
		}
	`)

	_, err := NewSubGraph("bad", src, "")
	if err == nil {
		t.Fatalf("expected InvalidSubgraph error")
	}
	if _, ok := err.(*InvalidSubgraph); !ok {
		t.Fatalf("expected *InvalidSubgraph, got %T", err)
	}
}

func TestNewSuperGraph_OwnershipAndExternal(t *testing.T) {
	a, err := NewSubGraph("A", []byte(`
		type Query { me: User! }
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
	`), "a:4001")
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewSubGraph("B", []byte(`
		type User @key(fields: "id") {
			id: ID! @external
			address: String!
		}
	`), "b:4002")
	if err != nil {
		t.Fatal(err)
	}

	sg, err := NewSuperGraph([]*SubGraph{a, b})
	if err != nil {
		t.Fatal(err)
	}

	if owner := sg.FieldOwner("User", "name"); owner == nil || owner.Name != "A" {
		t.Fatalf("expected A to own User.name, got %+v", owner)
	}
	if owner := sg.FieldOwner("User", "address"); owner == nil || owner.Name != "B" {
		t.Fatalf("expected B to own User.address, got %+v", owner)
	}
	// id is @external in B, so only A should own it.
	owners := sg.FieldOwners("User", "id")
	if len(owners) != 1 || owners[0].Name != "A" {
		t.Fatalf("expected only A to own User.id, got %+v", owners)
	}
}
