package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountRoundTrip(t *testing.T) {
	cases := []string{"EUR:0", "EUR:4503599627370496", "EUR:1.00000001", "EUR:1.5", "USD:12.34"}
	for _, c := range cases {
		a, err := ParseAmount(c)
		require.NoError(t, err, c)
		a2, err := ParseAmount(a.String())
		require.NoError(t, err)
		require.True(t, a.Equal(a2), c)
	}
}

func TestAmountEdgeCases(t *testing.T) {
	_, err := ParseAmount("EUR:4503599627370497")
	require.ErrorAs(t, err, new(*ErrAmountNumberTooBig))

	_, err = ParseAmount("EUR:1.123456789")
	require.ErrorAs(t, err, new(*ErrAmountFormat))

	_, err = ParseAmount("eur:1")
	require.ErrorAs(t, err, new(*ErrAmountFormat))
}

func TestAmountTrailingZeroTrim(t *testing.T) {
	a, err := ParseAmount("EUR:1.50000000")
	require.NoError(t, err)
	require.Equal(t, "EUR:1.5", a.String())
}

func TestIBANRandRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		iban, err := RandIBAN()
		require.NoError(t, err)
		parsed, err := ParseIBAN(iban)
		require.NoError(t, err)
		require.Equal(t, iban, parsed)
	}
}

func TestIBANKnownGood(t *testing.T) {
	parsed, err := ParseIBAN("DE89370400440532013000")
	require.NoError(t, err)
	require.Equal(t, "DE89370400440532013000", parsed)
}

func TestIBANChecksumFailure(t *testing.T) {
	_, err := ParseIBAN("DE00370400440532013000")
	require.Error(t, err)
}

func TestPaytoRoundTrip(t *testing.T) {
	p, err := ParsePayto("payto://iban/DE89370400440532013000?receiver-name=Bob&amount=EUR:1.50")
	require.NoError(t, err)
	require.Equal(t, "payto://iban/DE89370400440532013000", p.Canonical())
	require.Equal(t, "Bob", p.ReceiverName)

	p2, err := ParsePayto(p.Canonical())
	require.NoError(t, err)
	require.True(t, p.Equal(p2))
}

func TestPaytoWithBIC(t *testing.T) {
	p, err := ParsePayto("payto://iban/COBADEFFXXX/DE89370400440532013000")
	require.NoError(t, err)
	require.Equal(t, "COBADEFFXXX", p.BIC)
	require.Equal(t, "payto://iban/COBADEFFXXX/DE89370400440532013000", p.Canonical())
}

func TestPaytoXTalerBank(t *testing.T) {
	p, err := ParsePayto("payto://x-taler-bank/bank.example/alice")
	require.NoError(t, err)
	require.Equal(t, PaytoXTalerBank, p.Kind)
	require.Equal(t, "payto://x-taler-bank/bank.example/alice", p.Canonical())
}

func TestPaytoInvalidScheme(t *testing.T) {
	_, err := ParsePayto("http://iban/DE89370400440532013000")
	require.Error(t, err)
}

func TestExtractReservePub(t *testing.T) {
	token := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"
	require.Len(t, token, 52)

	pub, ok := ExtractReservePub("ignore me " + token)
	require.True(t, ok)
	require.Equal(t, token, pub.String())

	_, ok = ExtractReservePub("thanks")
	require.False(t, ok)
}

func TestParseOutgoingSubject(t *testing.T) {
	wtidToken := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"
	subject := wtidToken + " https://exchange.example/"

	wtid, exchangeURL, err := ParseOutgoingSubject(subject)
	require.NoError(t, err)
	require.Equal(t, wtidToken, wtid.String())
	require.Equal(t, "https://exchange.example/", exchangeURL)

	_, _, err = ParseOutgoingSubject("not a wire transfer")
	require.Error(t, err)
}

func TestHashCodeJSON(t *testing.T) {
	wtidToken := "KQJN3QY4WQRJ8KTZ0ZT9V7KGAQ6M4FQHPWW0H3D8BK9FK0RPCQKG"
	h, err := ParseShortHashCode(wtidToken)
	require.NoError(t, err)

	data, err := h.MarshalJSON()
	require.NoError(t, err)

	var h2 ShortHashCode
	require.NoError(t, h2.UnmarshalJSON(data))
	require.Equal(t, h, h2)
}
