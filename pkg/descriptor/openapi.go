package descriptor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// FromOpenAPI builds a client descriptor from an OpenAPI 3 document.
// The first server URL becomes the base URL, paths group into resources
// by their first segment, query parameters and JSON request body
// properties become payload fields, and the first security scheme maps
// to an auth hint (credentials still have to be supplied). Path
// placeholders stay in method paths and resolve from call arguments.
func FromOpenAPI(data []byte) (*ClientDescriptor, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "openapi",
			Reason: "failed to parse document",
			Cause:  err,
		}
	}

	desc := &ClientDescriptor{Name: clientNameFromInfo(doc.Info)}
	if len(doc.Servers) > 0 {
		desc.BaseURL = doc.Servers[0].URL
	}
	if doc.Components != nil {
		desc.Auth = authHint(doc.Components.SecuritySchemes)
	}

	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, &libretoerrors.ValidationError{
			Field:   "paths",
			Message: "document declares no paths",
		}
	}

	resources := make(map[string]*ResourceDescriptor)
	pathMap := doc.Paths.Map()
	paths := make([]string, 0, len(pathMap))
	for p := range pathMap {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rawPath := range paths {
		item := pathMap[rawPath]
		if item == nil {
			continue
		}

		segments := splitPathSegments(rawPath)
		resourceName, resourcePath, methodPath := splitResourcePath(segments)

		res, ok := resources[resourceName]
		if !ok {
			res = &ResourceDescriptor{Name: resourceName, Path: resourcePath}
			resources[resourceName] = res
		}

		ops := item.Operations()
		verbs := make([]string, 0, len(ops))
		for verb := range ops {
			verbs = append(verbs, verb)
		}
		sort.Strings(verbs)

		for _, verb := range verbs {
			op := ops[verb]
			if op == nil {
				continue
			}
			res.Methods = append(res.Methods, buildMethod(verb, methodPath, op))
		}
	}

	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		desc.Resources = append(desc.Resources, resources[name])
	}

	if _, err := desc.Compile(); err != nil {
		return nil, fmt.Errorf("imported document is not a valid client: %w", err)
	}
	return desc, nil
}

func clientNameFromInfo(info *openapi3.Info) string {
	if info == nil || info.Title == "" {
		return "client"
	}
	name := strings.ToLower(info.Title)
	name = strings.Join(strings.Fields(name), "-")
	return name
}

func splitPathSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// splitResourcePath decides which part of the path names the resource.
// A leading placeholder segment cannot name a resource, so those paths
// land under a root resource with no fragment of its own.
func splitResourcePath(segments []string) (name, resourcePath, methodPath string) {
	if len(segments) == 0 || strings.HasPrefix(segments[0], "{") {
		return "root", "", strings.Join(segments, "/")
	}
	return segments[0], segments[0], strings.Join(segments[1:], "/")
}

func buildMethod(verb, methodPath string, op *openapi3.Operation) *MethodDescriptor {
	m := &MethodDescriptor{
		Name:       methodName(verb, methodPath, op),
		HTTPMethod: strings.ToUpper(verb),
		Path:       methodPath,
	}

	fields := make(map[string]*FieldConfig)
	for _, ref := range op.Parameters {
		p := ref.Value
		if p == nil || p.In != openapi3.ParameterInQuery {
			continue
		}
		fc := &FieldConfig{Required: p.Required}
		if p.Schema != nil && p.Schema.Value != nil {
			fillFieldFromSchema(fc, p.Schema.Value)
		}
		fields[p.Name] = fc
	}

	if body := jsonRequestSchema(op.RequestBody); body != nil {
		required := make(map[string]struct{}, len(body.Required))
		for _, name := range body.Required {
			required[name] = struct{}{}
		}
		for name, propRef := range body.Properties {
			if propRef == nil || propRef.Value == nil {
				continue
			}
			fc := &FieldConfig{}
			fillFieldFromSchema(fc, propRef.Value)
			if _, ok := required[name]; ok {
				fc.Required = true
			}
			fields[name] = fc
		}
	}

	if len(fields) > 0 {
		m.PayloadConfig = &PayloadConfig{Fields: fields}
	}
	return m
}

func methodName(verb, methodPath string, op *openapi3.Operation) string {
	if op.OperationID != "" {
		return strings.ToLower(op.OperationID)
	}
	slug := strings.NewReplacer("{", "", "}", "", "/", "_", "-", "_").Replace(methodPath)
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return strings.ToLower(verb)
	}
	return strings.ToLower(verb) + "_" + slug
}

func jsonRequestSchema(ref *openapi3.RequestBodyRef) *openapi3.Schema {
	if ref == nil || ref.Value == nil {
		return nil
	}
	media := ref.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	return media.Schema.Value
}

func fillFieldFromSchema(fc *FieldConfig, schema *openapi3.Schema) {
	fc.Type = schemaParamType(schema)
	if schema.Default != nil {
		fc.Default = schema.Default
	}
	if len(schema.Enum) > 0 {
		fc.Choices = append([]any(nil), schema.Enum...)
	}
}

func schemaParamType(schema *openapi3.Schema) string {
	if schema == nil || schema.Type == nil {
		return ""
	}
	switch {
	case schema.Type.Is(openapi3.TypeString):
		return "string"
	case schema.Type.Is(openapi3.TypeInteger):
		return "integer"
	case schema.Type.Is(openapi3.TypeNumber):
		return "number"
	case schema.Type.Is(openapi3.TypeBoolean):
		return "boolean"
	case schema.Type.Is(openapi3.TypeArray):
		return "array"
	case schema.Type.Is(openapi3.TypeObject):
		return "object"
	}
	return ""
}

// authHint maps the first declared security scheme to an auth config
// skeleton. Only the scheme shape is imported; credentials resolve at
// construction.
func authHint(schemes openapi3.SecuritySchemes) *AuthConfig {
	if len(schemes) == 0 {
		return nil
	}
	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := schemes[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		s := ref.Value
		switch s.Type {
		case "http":
			switch strings.ToLower(s.Scheme) {
			case "bearer":
				return &AuthConfig{Type: "bearer"}
			case "basic":
				return &AuthConfig{Type: "basic"}
			}
		case "apiKey":
			placement := s.In
			if placement == "" {
				placement = "header"
			}
			return &AuthConfig{Type: "api_key", Field: s.Name, Placement: placement}
		case "oauth2":
			if s.Flows != nil && s.Flows.ClientCredentials != nil {
				flow := s.Flows.ClientCredentials
				scopes := make([]string, 0, len(flow.Scopes))
				for scope := range flow.Scopes {
					scopes = append(scopes, scope)
				}
				sort.Strings(scopes)
				return &AuthConfig{Type: "oauth2", TokenURL: flow.TokenURL, Scopes: scopes}
			}
		}
	}
	return nil
}
