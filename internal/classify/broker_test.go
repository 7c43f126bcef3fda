package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasweep/internal/model"
)

func testBrokers() []model.Broker {
	return []model.Broker{
		{
			ID:           "broker-acme",
			Name:         "Acme Data",
			Domains:      "acmedata.com",
			PrivacyEmail: "privacy@acmedata.com",
			Keywords:     "acme data, your acme profile",
			Enabled:      true,
		},
		{
			ID:       "broker-peoplefinder",
			Name:     "PeopleFinder",
			Domains:  "peoplefinder.example",
			Keywords: "peoplefinder, people search report",
			Enabled:  true,
		},
	}
}

func message(sender, subject, preview string) *model.EmailMessage {
	return &model.EmailMessage{
		Sender:       sender,
		SenderDomain: senderDomain(sender),
		Subject:      subject,
		BodyPreview:  preview,
	}
}

func senderDomain(sender string) string {
	for i := len(sender) - 1; i >= 0; i-- {
		if sender[i] == '@' {
			return sender[i+1:]
		}
	}
	return sender
}

func TestClassifyBrokerDomainMatch(t *testing.T) {
	idx := NewSignatureIndex(testBrokers())

	msg := message("no-reply@acmedata.com", "Your account", "hello")
	match := ClassifyBroker(msg, idx)

	require.NotNil(t, match.BrokerID)
	assert.Equal(t, "broker-acme", *match.BrokerID)
	assert.Equal(t, 0.95, match.Confidence)
	assert.Equal(t, model.MatchedByDomain, match.MatchedBy)
}

func TestClassifyBrokerSubdomainMatch(t *testing.T) {
	idx := NewSignatureIndex(testBrokers())

	msg := message("alerts@mail.acmedata.com", "Notification", "")
	match := ClassifyBroker(msg, idx)

	require.NotNil(t, match.BrokerID)
	assert.Equal(t, "broker-acme", *match.BrokerID)
	assert.Equal(t, model.MatchedByDomain, match.MatchedBy)
}

func TestClassifyBrokerPrivacyEmailMatch(t *testing.T) {
	brokers := testBrokers()
	// Privacy address on a domain the broker did not register.
	brokers[0].PrivacyEmail = "privacy@thirdparty-desk.com"
	idx := NewSignatureIndex(brokers)

	msg := message("privacy@thirdparty-desk.com", "Re: your request", "")
	match := ClassifyBroker(msg, idx)

	require.NotNil(t, match.BrokerID)
	assert.Equal(t, "broker-acme", *match.BrokerID)
	assert.Equal(t, 0.95, match.Confidence)
	assert.Equal(t, model.MatchedByDomain, match.MatchedBy)
}

func TestClassifyBrokerKeywordMatch(t *testing.T) {
	idx := NewSignatureIndex(testBrokers())

	msg := message("hello@unrelated.org", "Your people search report is ready", "View your peoplefinder results today")
	match := ClassifyBroker(msg, idx)

	require.NotNil(t, match.BrokerID)
	assert.Equal(t, "broker-peoplefinder", *match.BrokerID)
	assert.Equal(t, model.MatchedByKeyword, match.MatchedBy)
	assert.Greater(t, match.Confidence, 0.0)
	assert.LessOrEqual(t, match.Confidence, 0.85)
}

func TestClassifyBrokerDomainBeatsKeywords(t *testing.T) {
	idx := NewSignatureIndex(testBrokers())

	// Sender domain belongs to Acme while the text is full of the other
	// broker's keywords; the domain strategy runs first and wins outright.
	msg := message("news@acmedata.com", "Your people search report", "peoplefinder people search report")
	match := ClassifyBroker(msg, idx)

	require.NotNil(t, match.BrokerID)
	assert.Equal(t, "broker-acme", *match.BrokerID)
	assert.Equal(t, 0.95, match.Confidence)
	assert.Equal(t, model.MatchedByDomain, match.MatchedBy)
}

func TestClassifyBrokerNoMatch(t *testing.T) {
	idx := NewSignatureIndex(testBrokers())

	msg := message("friend@gmail.com", "Lunch tomorrow?", "See you at noon")
	match := ClassifyBroker(msg, idx)

	assert.Nil(t, match.BrokerID)
	assert.Equal(t, 0.0, match.Confidence)
	assert.Equal(t, model.MatchedByNone, match.MatchedBy)
}

func TestClassifyBrokerKeywordTieIsDeterministic(t *testing.T) {
	brokers := []model.Broker{
		{ID: "broker-b", Name: "Beta Broker", Keywords: "consumer profile", Enabled: true},
		{ID: "broker-a", Name: "Alpha Broker", Keywords: "consumer profile", Enabled: true},
	}

	msg := message("x@unknown.net", "About your consumer profile", "")

	// Input order must not influence the winner; the index orders brokers
	// by name.
	for i := 0; i < 5; i++ {
		idx := NewSignatureIndex(brokers)
		match := ClassifyBroker(msg, idx)
		require.NotNil(t, match.BrokerID)
		assert.Equal(t, "broker-a", *match.BrokerID)

		brokers[0], brokers[1] = brokers[1], brokers[0]
	}
}

func TestSubdomainMatchPrefersLongestRegisteredDomain(t *testing.T) {
	brokers := []model.Broker{
		{ID: "broker-outer", Name: "Outer", Domains: "b.example", Enabled: true},
		{ID: "broker-inner", Name: "Inner", Domains: "a.b.example", Enabled: true},
	}

	// Both registered domains are suffixes of the sender; the longer, more
	// specific one must win on every build of the index.
	for i := 0; i < 100; i++ {
		idx := NewSignatureIndex(brokers)

		id, ok := idx.BrokerIDForDomain("mail.a.b.example")
		require.True(t, ok)
		assert.Equal(t, "broker-inner", id)

		id, ok = idx.BrokerIDForDomain("other.b.example")
		require.True(t, ok)
		assert.Equal(t, "broker-outer", id)

		brokers[0], brokers[1] = brokers[1], brokers[0]
	}
}

func TestKeywordScoreGrowsWithMatches(t *testing.T) {
	one := keywordScore("acme data appears here", []string{"acme data", "your acme profile"})
	two := keywordScore("acme data and your acme profile", []string{"acme data", "your acme profile"})

	assert.Greater(t, two, one)
	assert.LessOrEqual(t, two, 0.85)
}
