// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package explain

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/exec"
	"github.com/cockroachdb/cascades/pkg/sql/opt/memo"
	"github.com/cockroachdb/errors"
)

// Fingerprint returns a hash of the plan. Plans with the same operators,
// arguments and shape have the same fingerprint. If shapeOnly is set, only
// the operators, the tables scanned and the shape are hashed, so plans that
// differ in constants or columns hash alike.
func Fingerprint(plan *exec.Plan, shapeOnly bool) uint64 {
	d := xxhash.New()
	var buf [binary.MaxVarintLen64]byte
	plan.Walk(func(n *exec.Node) bool {
		_, _ = d.Write(buf[:binary.PutUvarint(buf[:], uint64(n.Op))])
		_, _ = d.Write(buf[:binary.PutUvarint(buf[:], uint64(len(n.Children)))])
		if shapeOnly {
			if p, ok := n.Private.(*memo.ScanPrivate); ok {
				_, _ = d.WriteString(plan.Metadata.Table(p.Table).Name())
			}
		} else if n.Private != nil {
			_, _ = d.WriteString(memo.FormatPrivate(n.Private, nil))
		}
		_, _ = d.Write([]byte{0})
		return true
	})
	return d.Sum64()
}

// Gist returns a compact encoding of the operators of the plan and the tables
// it scans, in the manner of a plan gist. It can be decoded without the
// plan with DecodeGist.
func Gist(plan *exec.Plan) string {
	var out []byte
	plan.Walk(func(n *exec.Node) bool {
		out = binary.AppendUvarint(out, uint64(n.Op))
		out = binary.AppendUvarint(out, uint64(len(n.Children)))
		if n.Op == opt.PhysScanOp {
			name := plan.Metadata.Table(n.Private.(*memo.ScanPrivate).Table).Name()
			out = binary.AppendUvarint(out, uint64(len(name)))
			out = append(out, name...)
		}
		return true
	})
	return base64.RawURLEncoding.EncodeToString(out)
}

// DecodeGist decodes a gist into an indented operator tree, one operator per
// line.
func DecodeGist(gist string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(gist)
	if err != nil {
		return "", errors.Wrap(err, "decoding gist")
	}
	var buf strings.Builder
	d := gistDecoder{data: data}
	if err := d.decodeNode(&buf, 0); err != nil {
		return "", err
	}
	if len(d.data) > 0 {
		return "", errors.Newf("gist has %d trailing bytes", len(d.data))
	}
	return buf.String(), nil
}

type gistDecoder struct {
	data []byte
}

func (d *gistDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		return 0, errors.New("truncated gist")
	}
	d.data = d.data[n:]
	return v, nil
}

func (d *gistDecoder) decodeNode(buf *strings.Builder, depth int) error {
	op, err := d.uvarint()
	if err != nil {
		return err
	}
	if op >= uint64(opt.NumOperators) {
		return errors.Newf("invalid operator %d in gist", op)
	}
	children, err := d.uvarint()
	if err != nil {
		return err
	}
	buf.WriteString(strings.Repeat("  ", depth))
	buf.WriteString(opt.Operator(op).String())
	if opt.Operator(op) == opt.PhysScanOp {
		n, err := d.uvarint()
		if err != nil {
			return err
		}
		if n > uint64(len(d.data)) {
			return errors.New("truncated gist")
		}
		buf.WriteByte(' ')
		buf.Write(d.data[:n])
		d.data = d.data[n:]
	}
	buf.WriteByte('\n')
	for i := uint64(0); i < children; i++ {
		if err := d.decodeNode(buf, depth+1); err != nil {
			return err
		}
	}
	return nil
}
