package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// Response is a fully read HTTP response. Body is owned by the Response and
// is safe to keep after the call returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Cached is true when the response was served from the response cache.
	Cached    bool
	RequestID string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ClientError{
			Type:       ErrorTypeDecode,
			Message:    "response body is not valid JSON for target",
			Cause:      err,
			StatusCode: r.StatusCode,
			RequestID:  r.RequestID,
		}
	}
	return nil
}

// DecodeJSON decodes a Request result in one step:
//
//	resume, err := apiclient.DecodeJSON[Resume](client.Get(ctx, "/resumes/1"))
func DecodeJSON[T any](resp *Response, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	err = resp.Decode(&out)
	return out, err
}

// GetJSON performs a GET of path and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, path string, v interface{}, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodGet, path, nil, v, opts...)
}

// PostJSON posts body as JSON to path and decodes the response into v. A nil
// v discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, body, v interface{}, opts ...RequestOption) error {
	return c.DoJSON(ctx, http.MethodPost, path, body, v, opts...)
}

// DoJSON sends method to path and decodes the response into v. A nil v or an
// empty body leaves v untouched.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, v interface{}, opts ...RequestOption) error {
	resp, err := c.Request(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if v == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(v)
}

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       body,
		Cached:     r.Cached,
		RequestID:  r.RequestID,
	}
}

// size approximates the memory held by r for the cache budget.
func (r *Response) size() int64 {
	n := int64(len(r.Body))
	for k, vs := range r.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}
