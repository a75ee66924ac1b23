package transaction

import "encoding/json"

func (t Transaction) MarshalToJSON() (res []byte, err error) {
	return json.Marshal(t)
}

func UnmarshalFromJSON(data []byte) (t *Transaction, err error) {
	t = new(Transaction)
	err = json.Unmarshal(data, t)
	return
}
