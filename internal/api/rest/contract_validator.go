package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// ContractValidator checks requests, responses, and payloads against
// the OpenAPI document in api/openapi.yaml.
type ContractValidator struct {
	loader *openapi3.Loader
	doc    *openapi3.T
	router routers.Router
}

func NewContractValidator(specPath string) (*ContractValidator, error) {
	loader := &openapi3.Loader{Context: context.Background(), IsExternalRefsAllowed: true}

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("loading OpenAPI document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("building OpenAPI router: %w", err)
	}

	return &ContractValidator{loader: loader, doc: doc, router: router}, nil
}

// Document exposes the parsed OpenAPI document.
func (cv *ContractValidator) Document() *openapi3.T {
	return cv.doc
}

// ValidateRequest checks a request against the matching operation.
func (cv *ContractValidator) ValidateRequest(req *http.Request) error {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("no matching route for %s %s: %w", req.Method, req.URL.Path, err)
	}
	return openapi3filter.ValidateRequest(cv.loader.Context, &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
	})
}

// ValidateResponse checks a recorded response against the matching
// operation.
func (cv *ContractValidator) ValidateResponse(req *http.Request, status int, header http.Header, body []byte) error {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("no matching route for %s %s: %w", req.Method, req.URL.Path, err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
			Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
		},
		Status: status,
		Header: header,
	}
	input.SetBodyBytes(body)

	return openapi3filter.ValidateResponse(cv.loader.Context, input)
}

// ValidateSchema checks a decoded JSON value against a named component
// schema.
func (cv *ContractValidator) ValidateSchema(schemaName string, data interface{}) error {
	schema, ok := cv.doc.Components.Schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}
	if err := schema.Value.VisitJSON(data); err != nil {
		return fmt.Errorf("schema %s: %w", schemaName, err)
	}
	return nil
}
