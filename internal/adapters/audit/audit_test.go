package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	Convey("Given a kafka publisher over a fake writer", t, func() {
		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w, topic: DefaultTopic}
		rec := model.AuditRecord{
			PlayerID: "p1", LevelID: "lvl", OldDifficulty: 0.5, NewDifficulty: 0.4,
			Rule: "failure_streak", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}

		Convey("Records are keyed by player and encoded as JSON", func() {
			So(p.Publish(context.Background(), rec), ShouldBeNil)
			So(w.msgs, ShouldHaveLength, 1)
			So(string(w.msgs[0].Key), ShouldEqual, "p1")

			var got model.AuditRecord
			So(json.Unmarshal(w.msgs[0].Value, &got), ShouldBeNil)
			So(got, ShouldResemble, rec)
			So(string(w.msgs[0].Headers[0].Value), ShouldEqual, "failure_streak")
		})

		Convey("Write failures are wrapped", func() {
			boom := errors.New("broker down")
			w.err = boom
			err := p.Publish(context.Background(), rec)
			So(errors.Is(err, boom), ShouldBeTrue)
		})

		Convey("Close closes the writer", func() {
			So(p.Close(), ShouldBeNil)
			So(w.closed, ShouldBeTrue)
		})
	})

	Convey("NewKafka requires brokers", t, func() {
		_, err := NewKafka(nil, "")
		So(errors.Is(err, ErrNoBrokers), ShouldBeTrue)

		p, err := NewKafka([]string{"localhost:9092"}, "")
		So(err, ShouldBeNil)
		So(p.topic, ShouldEqual, DefaultTopic)
	})
}

func TestLogPublisher(t *testing.T) {
	Convey("The log publisher never fails", t, func() {
		p := NewLog(nil)
		So(p.Publish(context.Background(), model.AuditRecord{PlayerID: "p1"}), ShouldBeNil)
		So(p.Close(), ShouldBeNil)
	})
}
