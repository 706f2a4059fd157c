package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent_Text(t *testing.T) {
	c := Content{Role: RoleUser, Parts: []Part{
		TextPart{Text: "hello "},
		ImagePart{Data: "aGk=", MimeType: "image/png"},
		TextPart{Text: "world"},
	}}
	assert.Equal(t, "hello world", c.Text())
	assert.Len(t, c.Images(), 1)
	assert.False(t, c.HasFunctionCalls())
}

func TestContent_Clone(t *testing.T) {
	c := UserText("a")
	cp := c.Clone()
	cp.Parts[0] = TextPart{Text: "b"}
	assert.Equal(t, "a", c.Text())
	assert.Equal(t, "b", cp.Text())
	assert.Nil(t, CloneContents(nil))
}

func TestFunctionResponse_Text(t *testing.T) {
	tests := []struct {
		name string
		resp FunctionResponse
		want string
	}{
		{"string", FunctionResponse{Response: "ok"}, "ok"},
		{"nil", FunctionResponse{}, ""},
		{"struct", FunctionResponse{Response: map[string]int{"sum": 5}}, `{"sum":5}`},
		{"error", FunctionResponse{Response: "ignored", Error: "boom"}, "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.Text())
		})
	}
}

func TestContent_ImagesFromResponses(t *testing.T) {
	c := Content{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: FunctionResponse{
		Name:   "chart_render",
		Images: []ImagePart{{Data: "x", MimeType: "image/jpeg"}},
	}}}}
	imgs := c.Images()
	assert.Len(t, imgs, 1)
	assert.Equal(t, "image/jpeg", imgs[0].MimeType)
	assert.Len(t, c.FunctionResponses(), 1)
}

func TestLastUserText(t *testing.T) {
	history := []Content{UserText("first"), AssistantText("reply"), UserText("second"), AssistantText("x")}
	assert.Equal(t, "second", LastUserText(history))
	assert.Equal(t, "", LastUserText([]Content{AssistantText("only")}))
}
