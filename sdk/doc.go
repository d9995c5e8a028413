// Package sdk provides a fluent builder for constructing client
// descriptors in Go code.
//
// The builder assembles the same descriptor tree the YAML loader
// produces, so programmatic and declarative definitions compile
// identically and share one validation path. Use it when a client
// definition depends on runtime state, when descriptors are generated
// by other tooling, or when hooks need Go functions that YAML cannot
// express.
//
// # Quick Start
//
// Define a client, bind it, and call a method:
//
//	import (
//		"github.com/tombee/libretto/pkg/client"
//		"github.com/tombee/libretto/sdk"
//	)
//
//	func main() {
//		desc, err := sdk.NewClient("shop").
//			BaseURL("https://api.shop.example").
//			BearerToken(os.Getenv("SHOP_TOKEN")).
//			Resource("products").
//				Method("list").Get("").
//					Param("page", sdk.TypeInteger).Default(1).Done().
//					Done().
//				Method("get").Get("{id}").Done().
//				Done().
//			Build()
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		c, err := client.New(desc)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		products, err := c.Resource("products")
//		if err != nil {
//			log.Fatal(err)
//		}
//		resp, err := products.Call(ctx, "get", client.Args{
//			Path: []any{42},
//		})
//		...
//	}
//
// # Builder Shape
//
// Each level of the definition has its own builder. Done closes a level
// and returns to the one above; nested resources close with End, which
// returns to the parent resource.
//
//	NewClient ─► ClientBuilder ─ Resource ─► ResourceBuilder ─ Method ─► MethodBuilder ─ Param ─► FieldBuilder
//
// Builders write into the descriptor tree as they are called, so a
// definition can be split across functions by passing builders around.
// Errors made while chaining (for example declaring a parameter twice)
// are collected and reported by Build, along with everything the
// descriptor compile step checks: names, HTTP verbs, protocols, jq
// expressions, pagination, auth and session settings.
//
// # Hooks
//
// Pre and Post hooks are Go functions invoked around each request.
// They exist only on this surface; YAML descriptors cannot declare
// them:
//
//	.Method("create").Post("").
//		Pre(func(ctx context.Context, req *transport.Request) (*transport.Request, error) {
//			return req.WithHeader("Idempotency-Key", uuid.NewString()), nil
//		}).
//		Done()
package sdk
