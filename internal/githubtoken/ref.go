package githubtoken

import "encoding/json"

// refPayload mirrors the shape of store.TokenRef ("kind" + opaque "ref")
// used elsewhere in the store for secret-vault indirection, kept local
// here since it is githubtoken's own private slot, not the OAuth vault.
type refPayload struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

func marshalTokenRefJSON(ref string) (string, error) {
	b, err := json.Marshal(refPayload{Kind: "github-pat", Ref: ref})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTokenRefJSON(raw string) (string, error) {
	var p refPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", err
	}
	return p.Ref, nil
}
