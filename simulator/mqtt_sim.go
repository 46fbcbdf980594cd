package main

import (
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/infra/mqtt"
)

// newMQTTClient connects an actor session. The last will tells the relay
// the session is gone when the actor drops without saying goodbye.
func newMQTTClient(broker, prefix string, conn model.ConnID) (paho.Client, error) {
	will, err := model.Encode(model.Disconnect{})
	if err != nil {
		return nil, err
	}
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(string(conn))
	opts.AutoReconnect = true
	opts.SetBinaryWill(mqtt.UpTopic(prefix, conn), will, 1, false)
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}
