package filerpc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"no params", Request{Op: OpFreedirtree}},
		{"open", Request{Op: OpOpen, Params: [][]byte{
			[]byte("/tmp/a.txt"),
			IntSlot(0),
			IntSlot(0o644),
		}}},
		{"binary param", Request{Op: OpWrite, Params: [][]byte{
			IntSlot(12348),
			{0x00, '\r', '\n', 0xff, '\r', '\n', '\r', '\n'},
			IntSlot(8),
		}}},
		{"empty param", Request{Op: OpUnlink, Params: [][]byte{{}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRequest(tc.req.Encode())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Op != tc.req.Op {
				t.Fatalf("op: got %v want %v", got.Op, tc.req.Op)
			}
			if len(got.Params) != len(tc.req.Params) {
				t.Fatalf("params: got %d want %d", len(got.Params), len(tc.req.Params))
			}
			for i := range tc.req.Params {
				if !bytes.Equal(got.Params[i], tc.req.Params[i]) {
					t.Fatalf("param %d: got %q want %q", i, got.Params[i], tc.req.Params[i])
				}
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		resp Response
	}{
		{"success", Response{Returns: [][]byte{IntSlot(0)}}},
		{"errno", Response{Errno: 2, Returns: [][]byte{IntSlot(-1)}}},
		{"read reply", Response{Returns: [][]byte{
			IntSlot(5),
			[]byte("hel\r\n"),
		}}},
		{"empty returns", Response{Errno: 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeResponse(tc.resp.Encode())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Errno != tc.resp.Errno {
				t.Fatalf("errno: got %d want %d", got.Errno, tc.resp.Errno)
			}
			if len(got.Returns) != len(tc.resp.Returns) {
				t.Fatalf("returns: got %d want %d", len(got.Returns), len(tc.resp.Returns))
			}
			for i := range tc.resp.Returns {
				if !bytes.Equal(got.Returns[i], tc.resp.Returns[i]) {
					t.Fatalf("return %d: got %q want %q", i, got.Returns[i], tc.resp.Returns[i])
				}
			}
		})
	}
}

func TestRequestWireFormat(t *testing.T) {
	req := Request{Op: OpOpen, Params: [][]byte{
		[]byte("/tmp/a.txt"),
		IntSlot(64),
		IntSlot(420),
	}}
	want := "Command:0\r\nParamNum:3\r\n" +
		"10\r\n/tmp/a.txt\r\n" +
		"2\r\n64\r\n" +
		"3\r\n420\r\n"
	if diff := cmp.Diff(want, string(req.Encode())); diff != "" {
		t.Fatalf("wire format mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMalformedMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing ParamNum", "Command:0\r\n"},
		{"wrong first header", "Errno:0\r\nParamNum:0\r\n"},
		{"non-numeric op", "Command:open\r\nParamNum:0\r\n"},
		{"negative count", "Command:0\r\nParamNum:-1\r\n"},
		{"count exceeds slots", "Command:0\r\nParamNum:2\r\n3\r\nabc\r\n"},
		{"slot size short of bytes", "Command:0\r\nParamNum:1\r\n5\r\nab\r\n"},
		{"trailing bytes", "Command:0\r\nParamNum:1\r\n2\r\nab\r\nextra"},
		{"slot missing terminator", "Command:0\r\nParamNum:1\r\n2\r\nabXY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeRequest([]byte(tc.raw)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("got err %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestDecodeResponseNegativeErrno(t *testing.T) {
	raw := "Errno:-5\r\nReturnNum:0\r\n"
	if _, err := DecodeResponse([]byte(raw)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("got err %v, want ErrMalformedMessage", err)
	}
}

func TestIntSlot(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 12345, -12345, 1<<62 + 1, -(1 << 62)} {
		got, err := SlotInt(IntSlot(v))
		if err != nil {
			t.Fatalf("SlotInt(IntSlot(%d)): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip of %d gave %d", v, got)
		}
	}
	if _, err := SlotInt([]byte("not a number")); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("non-numeric slot should be ErrMalformedMessage, got %v", err)
	}
	if _, err := SlotInt(nil); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("empty slot should be ErrMalformedMessage, got %v", err)
	}
}

func TestHandleTranslation(t *testing.T) {
	for _, h := range []int{0, 1, 42, Offset - 1, Offset, 1 << 20} {
		if got := ToClientHandle(ToServerHandle(h + Offset)); got != h+Offset {
			t.Fatalf("translation law broken for %d: got %d", h+Offset, got)
		}
	}
	if !IsLocalHandle(0) || !IsLocalHandle(Offset-1) {
		t.Fatal("handles below Offset must classify local")
	}
	if IsLocalHandle(Offset) || IsLocalHandle(Offset+1) {
		t.Fatal("handles at or above Offset must classify remote")
	}
	if IsLocalHandle(-1) {
		t.Fatal("negative values are not valid local handles")
	}
}
