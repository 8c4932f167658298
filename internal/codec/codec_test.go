package codec

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrockfordRoundTrip32(t *testing.T) {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	enc := EncodeCrockford(buf)
	require.Len(t, enc, 52)

	dec, err := DecodeCrockfordFixed(enc, 32)
	require.NoError(t, err)
	require.Equal(t, buf, dec)
}

func TestCrockfordRoundTrip64(t *testing.T) {
	buf := make([]byte, 64)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	enc := EncodeCrockford(buf)
	require.Len(t, enc, 103)

	dec, err := DecodeCrockfordFixed(enc, 64)
	require.NoError(t, err)
	require.Equal(t, buf, dec)
}

func TestCrockfordAliases(t *testing.T) {
	buf := []byte{0x00, 0x44, 0x32, 0x14}
	enc := EncodeCrockford(buf)

	aliased := strings.NewReplacer("0", "O", "1", "I").Replace(strings.ToLower(enc))
	dec, err := DecodeCrockford(aliased)
	require.NoError(t, err)
	require.Equal(t, buf, dec)
}

func TestCrockfordInvalidChar(t *testing.T) {
	_, err := DecodeCrockford("!!!!")
	require.Error(t, err)
}

func TestDeflateRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("ISO 20022 camt.053 document content. ", 50))
	compressed, err := Deflate(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))

	got, err := Inflate(compressed)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBuilderAndDestructorRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.El("ebicsRequest", func() {
		b.Attr("Version", "H004")
		b.El("header/static", func() {
			b.El("HostID", func() { b.Text("HOST1") })
			b.El("Nonce", func() { b.Text("ABCDEF") })
		})
		b.El("body", func() {
			b.El("DataTransfer/OrderData", func() { b.Text("c29tZSBkYXRh") })
		})
	})

	doc := b.Bytes()
	require.Contains(t, string(doc), `Version="H004"`)
	require.Contains(t, string(doc), "<HostID>HOST1</HostID>")

	d, err := NewDestructor(doc)
	require.NoError(t, err)
	require.Equal(t, "ebicsRequest", d.Name())

	version, ok := d.Attr("Version")
	require.True(t, ok)
	require.Equal(t, "H004", version)

	static, err := d.One("header")
	require.NoError(t, err)
	static, err = static.One("static")
	require.NoError(t, err)

	hostID, err := static.One("HostID")
	require.NoError(t, err)
	require.Equal(t, "HOST1", hostID.Text())

	_, _, err = static.Opt("NonExistent")
	require.NoError(t, err)

	body, err := d.One("body")
	require.NoError(t, err)
	transfer, err := body.One("DataTransfer")
	require.NoError(t, err)
	each := transfer.Each("OrderData")
	require.Len(t, each, 1)
	require.Equal(t, "c29tZSBkYXRh", each[0].Text())
}

func TestDestructorMissingRequired(t *testing.T) {
	b := NewBuilder()
	b.El("root", func() {
		b.El("child", nil)
	})
	d, err := NewDestructor(b.Bytes())
	require.NoError(t, err)

	_, err = d.One("missing")
	require.Error(t, err)
	var destructErr *DestructionError
	require.ErrorAs(t, err, &destructErr)
}
