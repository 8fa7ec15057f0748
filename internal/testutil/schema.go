package testutil

import (
	"github.com/graphql-go/graphql"

	"github.com/roach88/subdispatch/internal/gql"
)

// Category and Namespace used across tests.
const (
	Category  = "type"
	Namespace = "namespace"
)

// Queries are two subscription documents over the same field that differ
// only in their selection set.
var Queries = [2]string{
	`subscription($name: String!, $age: Int, $city: String) {
		user(name: $name, age: $age, city: $city) {
			name
			city
			age
		}
	}`,
	`subscription($name: String!, $age: Int, $city: String) {
		user(name: $name, age: $age, city: $city) {
			name
			age
		}
	}`,
}

// UserField is the "user" root field: echo of root merged with args.
var UserField = gql.FieldDef{
	Name: "user",
	Args: map[string]string{
		"name": "String",
		"age":  "Int",
		"city": "String",
	},
	Returns: map[string]string{
		"name": "String",
		"age":  "Int",
		"city": "String",
	},
}

// UserSchema returns a schema with "user" on both the query and the
// subscription root. Panics on build failure.
func UserSchema() *graphql.Schema {
	schema, err := gql.BuildEchoSchema(gql.SchemaDef{
		Subscriptions: []gql.FieldDef{UserField},
	})
	if err != nil {
		panic(err)
	}
	return schema
}

// NoSubscriptionSchema returns a schema with "user" on the query root only.
func NoSubscriptionSchema() *graphql.Schema {
	schema, err := gql.BuildEchoSchema(gql.SchemaDef{
		Queries: []gql.FieldDef{UserField},
	})
	if err != nil {
		panic(err)
	}
	return schema
}
