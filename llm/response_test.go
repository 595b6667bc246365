package llm

import (
	"errors"
	"testing"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		resp Response
		want string
		err  error
	}{
		{name: "direct", resp: Response{Text: "  hello  "}, want: "hello"},
		{name: "nested", resp: Response{Inner: &Response{Text: "inner"}}, want: "inner"},
		{name: "doubly nested parts", resp: Response{Inner: &Response{Inner: &Response{Parts: []Part{{Text: "deep"}}}}}, want: "deep"},
		{name: "blank nested falls through to parts", resp: Response{Inner: &Response{Text: " "}, Parts: []Part{{Text: "outer"}}}, want: "outer"},
		{name: "parts", resp: Response{Parts: []Part{{Text: "a "}, {Text: "thinking", Thought: true}, {Text: "b"}}}, want: "a b"},
		{name: "direct wins over parts", resp: Response{Text: "direct", Parts: []Part{{Text: "part"}}}, want: "direct"},
		{name: "blank direct falls through", resp: Response{Text: "   ", Parts: []Part{{Text: "part"}}}, want: "part"},
		{name: "empty", resp: Response{}, err: ErrEmptyResponse},
		{name: "only thoughts", resp: Response{Parts: []Part{{Text: "x", Thought: true}}}, err: ErrEmptyResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractText(tc.resp)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractText: %v", err)
			}
			if got != tc.want {
				t.Fatalf("text = %q, want %q", got, tc.want)
			}
		})
	}
}
