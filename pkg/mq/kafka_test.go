package mq

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaProducer_SendMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, ProducerConfig())
	p := newKafkaProducer(sp, "cinematch.chat", zap.NewNop())
	defer p.Close()

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]any
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["content"] != "hi" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	require.NoError(t, p.SendMessage("ABC123", map[string]string{"content": "hi"}))

	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := p.SendMessage("ABC123", map[string]string{"content": "again"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestKafkaProducer_MarshalError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, ProducerConfig())
	p := newKafkaProducer(sp, "cinematch.chat", zap.NewNop())
	defer p.Close()

	assert.Error(t, p.SendMessage("ABC123", make(chan int)))
}

func TestKafkaProducer_SendRaw(t *testing.T) {
	sp := mocks.NewSyncProducer(t, ProducerConfig())
	p := newKafkaProducer(sp, "cinematch.chat", zap.NewNop())
	defer p.Close()

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "{broken" {
			return errors.New("value was re-encoded")
		}
		return nil
	})
	assert.NoError(t, p.SendRaw("cinematch.chat.dlq", []byte("ABC123"), []byte("{broken")))
}
