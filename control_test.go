package ftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyParser_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "simple success",
			input:    "220 Welcome\r\n",
			wantCode: 220,
			wantMsg:  "Welcome",
		},
		{
			name:     "error response",
			input:    "550 File not found\r\n",
			wantCode: 550,
			wantMsg:  "File not found",
		},
		{
			name:     "code with no message",
			input:    "200 \r\n",
			wantCode: 200,
			wantMsg:  "",
		},
		{
			name:     "bare code",
			input:    "200\r\n",
			wantCode: 200,
			wantMsg:  "",
		},
		{
			name:     "LF only",
			input:    "226 Transfer complete\n",
			wantCode: 226,
			wantMsg:  "Transfer complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &replyParser{}
			out := p.feed([]byte(tt.input))
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantCode, out[0].Code)
			assert.Equal(t, tt.wantMsg, out[0].Message)
		})
	}
}

func TestReplyParser_MultiLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantMsg   string
		wantLines int
	}{
		{
			name:      "dash continuation",
			input:     "150-Line1\r\n150-Line2\r\n150 Line3\r\n",
			wantCode:  150,
			wantMsg:   "Line1\nLine2\nLine3",
			wantLines: 3,
		},
		{
			name: "RFC 2389 feature lines",
			input: "211-Extensions supported:\r\n" +
				" MLST size*;modify*;\r\n" +
				" SIZE\r\n" +
				"211 END\r\n",
			wantCode:  211,
			wantMsg:   "Extensions supported:\n MLST size*;modify*;\n SIZE\nEND",
			wantLines: 4,
		},
		{
			name: "other code inside block",
			input: "230-Welcome\r\n" +
				"220 is not the end\r\n" +
				"230 Logged in\r\n",
			wantCode:  230,
			wantMsg:   "Welcome\n220 is not the end\nLogged in",
			wantLines: 3,
		},
		{
			name: "text lines inside block",
			input: "213-Status of /pub:\r\n" +
				"-rw-r--r-- 1 ftp ftp 5 Jan 02 2024 a.txt\r\n" +
				"213 End of status\r\n",
			wantCode:  213,
			wantMsg:   "Status of /pub:\n-rw-r--r-- 1 ftp ftp 5 Jan 02 2024 a.txt\nEnd of status",
			wantLines: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &replyParser{}
			out := p.feed([]byte(tt.input))
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantCode, out[0].Code)
			assert.Equal(t, tt.wantMsg, out[0].Message)
			assert.Len(t, out[0].Lines, tt.wantLines)
		})
	}
}

func TestReplyParser_ArbitraryChunks(t *testing.T) {
	t.Parallel()

	input := "220-Welcome\r\n220 Ready\r\n331 Password required\r\n150-Line1\r\n150-Line2\r\n150 Line3\r\n"

	for _, size := range []int{1, 2, 3, 5, 7, 64} {
		p := &replyParser{}
		var out []*Response
		for i := 0; i < len(input); i += size {
			end := min(i+size, len(input))
			out = append(out, p.feed([]byte(input[i:end]))...)
		}

		require.Len(t, out, 3, "chunk size %d", size)
		assert.Equal(t, 220, out[0].Code)
		assert.Equal(t, "Welcome\nReady", out[0].Message)
		assert.Equal(t, 331, out[1].Code)
		assert.Equal(t, 150, out[2].Code)
		assert.Equal(t, "Line1\nLine2\nLine3", out[2].Message)
	}
}

func TestReplyParser_NoPartialDispatch(t *testing.T) {
	t.Parallel()

	p := &replyParser{}
	assert.Empty(t, p.feed([]byte("211-Features:\r\n SIZE\r\n")))
	assert.Empty(t, p.feed([]byte("211 En")))

	out := p.feed([]byte("d\r\n"))
	require.Len(t, out, 1)
	assert.Equal(t, "Features:\n SIZE\nEnd", out[0].Message)
}

func TestReplyParser_DropsStrayLines(t *testing.T) {
	t.Parallel()

	p := &replyParser{}
	out := p.feed([]byte("garbage\r\n\r\n200 OK\r\n"))
	require.Len(t, out, 1)
	assert.Equal(t, 200, out[0].Code)
}

func TestSplitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line    string
		code    int
		sep     byte
		matches bool
	}{
		{"220 Welcome", 220, ' ', true},
		{"220-Welcome", 220, '-', true},
		{"220", 220, ' ', true},
		{"22", 0, 0, false},
		{"abc def", 0, 0, false},
		{"2200 x", 0, 0, false},
		{"099 low", 0, 0, false},
		{" 220 indented", 0, 0, false},
	}

	for _, tt := range tests {
		code, sep, ok := splitCode(tt.line)
		assert.Equal(t, tt.matches, ok, tt.line)
		assert.Equal(t, tt.code, code, tt.line)
		assert.Equal(t, tt.sep, sep, tt.line)
	}
}

func TestResponse_Classification(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Response{Code: 150}).IsPreliminary())
	assert.True(t, (&Response{Code: 226}).Is2xx())
	assert.True(t, (&Response{Code: 350}).Is3xx())
	assert.True(t, (&Response{Code: 421}).Is4xx())
	assert.True(t, (&Response{Code: 550}).Is5xx())

	assert.Equal(t, GroupConnections, (&Response{Code: 227}).Group())
	assert.Equal(t, GroupAuthentication, (&Response{Code: 230}).Group())
	assert.Equal(t, GroupFileSystem, (&Response{Code: 550}).Group())
	assert.Equal(t, GroupSyntax, (&Response{Code: 500}).Group())
	assert.Equal(t, GroupInformation, (&Response{Code: 211}).Group())
	assert.Equal(t, GroupUnspecified, (&Response{Code: 240}).Group())
}

func FuzzReplyParser(f *testing.F) {
	f.Add("220 Welcome\r\n", 3)
	f.Add("211-Features:\r\n SIZE\r\n211 End\r\n", 1)
	f.Add("150-a\r\n226 b\r\n150 c\r\n", 5)
	f.Add("garbage\n\n\r\n999", 2)

	f.Fuzz(func(t *testing.T, input string, size int) {
		if size < 1 {
			size = 1
		}
		p := &replyParser{}
		for i := 0; i < len(input); i += size {
			end := min(i+size, len(input))
			for _, resp := range p.feed([]byte(input[i:end])) {
				if resp.Code < 100 || resp.Code > 999 {
					t.Fatalf("code out of range: %d", resp.Code)
				}
				if len(resp.Lines) == 0 {
					t.Fatalf("response without lines: %+v", resp)
				}
			}
		}
	})
}
