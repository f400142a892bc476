package clientmqtt

type MQTTConf struct {
	ClientID    string // ClientID - уникальное имя клиента для брокеров.
	Schema      string // Schema - тип подключения.
	Host        string // Host - адрес MQTT сервера.
	Port        string // Port - порт MQTT сервера.
	User        string // User - логин для подключения к MQTT серверу.
	Password    string // Password - пароль для подключения к MQTT серверу.
	Qos         byte   // Qos - качество обслуживания.
	TopicPrefix string // TopicPrefix - корень дерева топиков.
}

// ValuePayload is published on <prefix>/value/<channel>.
type ValuePayload struct {
	Channel int `json:"channel"` // Channel is the universe channel (1-512).
	Value   int `json:"value"`   // Value is the value a DMX channel can represent (0-255).
}

// AssociationPayload is published, retained, on <prefix>/association/<channel>.
type AssociationPayload struct {
	Channel int    `json:"channel"`
	Label   string `json:"label"`
}

// RemovalPayload is published on <prefix>/association/removed.
type RemovalPayload struct {
	FirstChannel int `json:"first_channel"`
	Count        int `json:"count"`
}

// Samples is the payload accepted on <prefix>/input: raw slot values in arrival order.
type Samples []int
