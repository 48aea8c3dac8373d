package fabnet_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jt05610/drawbot/fabnet"
)

var parseCases = []struct {
	name   string
	buffer []byte
	expect fabnet.Reply
}{
	{
		name:   "ok",
		buffer: []byte("<3|ok>\n"),
		expect: &fabnet.Ack{Addr: 3},
	},
	{
		name:   "idle",
		buffer: []byte("<12|Idle|Rem:0|Pos:1200>\n"),
		expect: &fabnet.StatusReply{Addr: 12, State: "Idle", Remaining: 0, Position: 1200},
	},
	{
		name:   "run",
		buffer: []byte("<3|Run|Rem:250|Pos:-750>"),
		expect: &fabnet.StatusReply{Addr: 3, State: "Run", Remaining: 250, Position: -750},
	},
	{
		name:   "remainingOnly",
		buffer: []byte("<3|Rem:7>\n"),
		expect: &fabnet.StatusReply{Addr: 3, Remaining: 7},
	},
	{
		name:   "error",
		buffer: []byte("<4|error:2>\n"),
		expect: &fabnet.Fault{Addr: 4, Code: 2},
	},
	{
		name:   "identity",
		buffer: []byte("<5|fw:stp-086>\n"),
		expect: &fabnet.Identity{Addr: 5, Firmware: "stp-086"},
	},
}

func TestParse(t *testing.T) {
	for _, tc := range parseCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := fabnet.NewParser(bytes.NewReader(tc.buffer)).Parse()
			if err != nil {
				t.Fatal(err)
			}
			switch e := tc.expect.(type) {
			case *fabnet.Ack:
				a, ok := r.(*fabnet.Ack)
				if !ok || *a != *e {
					t.Fatalf("expected %+v, got %+v", e, r)
				}
			case *fabnet.StatusReply:
				s, ok := r.(*fabnet.StatusReply)
				if !ok || *s != *e {
					t.Fatalf("expected %+v, got %+v", e, r)
				}
			case *fabnet.Fault:
				f, ok := r.(*fabnet.Fault)
				if !ok || *f != *e {
					t.Fatalf("expected %+v, got %+v", e, r)
				}
			case *fabnet.Identity:
				i, ok := r.(*fabnet.Identity)
				if !ok || *i != *e {
					t.Fatalf("expected %+v, got %+v", e, r)
				}
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, line := range []string{
		"<3|Rem:>\n",
		"<3|Rem:abc>\n",
		"<x|ok>\n",
		"<3|Bogus>\n",
		"<3|ok\n",
		"<3>\n",
		"<3|fw:>\n",
	} {
		if r, err := fabnet.NewParser(bytes.NewReader([]byte(line))).Parse(); err == nil {
			t.Fatalf("%q: expected error, got %+v", line, r)
		}
	}
}

func TestParse_Noise(t *testing.T) {
	_, err := fabnet.NewParser(bytes.NewReader([]byte("booting v0.86\n"))).Parse()
	if !errors.Is(err, fabnet.ErrNotReply) {
		t.Fatalf("expected ErrNotReply, got %v", err)
	}
}
