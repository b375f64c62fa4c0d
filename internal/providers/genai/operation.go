package genai

import (
	"encoding/json"
	"strings"
)

// Operation is an opaque handle for an in-flight long-running remote job.
// Raw keeps the operation JSON verbatim so it can be written to the ledger
// and forwarded to the next poll cycle unchanged; only Done and the result
// locator are ever interpreted.
type Operation struct {
	Name string
	Done bool
	Raw  json.RawMessage
}

type operationEnvelope struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type videoResponse struct {
	GenerateVideoResponse struct {
		GeneratedSamples []struct {
			Video struct {
				URI string `json:"uri"`
			} `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse"`
	GeneratedVideos []struct {
		Video struct {
			URI string `json:"uri"`
		} `json:"video"`
	} `json:"generatedVideos"`
}

// ParseOperation decodes an operation envelope while retaining the raw JSON.
func ParseOperation(raw json.RawMessage) (*Operation, error) {
	var envelope operationEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return &Operation{
		Name: envelope.Name,
		Done: envelope.Done,
		Raw:  append(json.RawMessage(nil), raw...),
	}, nil
}

// ErrorMessage returns the remote error message, if the operation failed.
func (o *Operation) ErrorMessage() string {
	if o == nil || len(o.Raw) == 0 {
		return ""
	}
	var envelope operationEnvelope
	if err := json.Unmarshal(o.Raw, &envelope); err != nil {
		return ""
	}
	if envelope.Error == nil {
		return ""
	}
	return envelope.Error.Message
}

// ResultURI extracts the video result locator from a done operation. Returns
// the empty string when the response carries no usable URI.
func (o *Operation) ResultURI() string {
	if o == nil || len(o.Raw) == 0 {
		return ""
	}
	var envelope operationEnvelope
	if err := json.Unmarshal(o.Raw, &envelope); err != nil {
		return ""
	}
	if len(envelope.Response) == 0 {
		return ""
	}
	var response videoResponse
	if err := json.Unmarshal(envelope.Response, &response); err != nil {
		return ""
	}
	for _, sample := range response.GenerateVideoResponse.GeneratedSamples {
		if uri := strings.TrimSpace(sample.Video.URI); uri != "" {
			return uri
		}
	}
	for _, video := range response.GeneratedVideos {
		if uri := strings.TrimSpace(video.Video.URI); uri != "" {
			return uri
		}
	}
	return ""
}
