package moonshine

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// candidateNames lists recognized names for each canonical tensor role, in
// priority order, mirroring spec §9's "ONNX input-name discovery" note: case-
// insensitive exact match first, substring match second.
var candidateNames = map[string][]string{
	"input_features": {"input_features", "input", "audio_features", "mel"},
	"attention_mask":  {"attention_mask", "encoder_attention_mask", "mask"},
	"encoder_states":  {"last_hidden_state", "encoder_hidden_states", "encoder_outputs", "output"},
	"input_ids":       {"input_ids", "decoder_input_ids", "tokens"},
	"use_cache":       {"use_cache_branch", "use_cache"},
}

// resolveNames maps logical roles to the actual input/output names reported
// by an ONNX session, matching spec §9's candidate-list discovery policy.
// Unresolved roles are simply absent from the returned map (the caller
// treats that as "this session doesn't expose this tensor").
func resolveNames(reported []string, roles ...string) map[string]string {
	resolved := make(map[string]string, len(roles))
	for _, role := range roles {
		candidates := candidateNames[role]
		if name, ok := matchName(reported, candidates); ok {
			resolved[role] = name
		}
	}
	return resolved
}

func matchName(reported []string, candidates []string) (string, bool) {
	for _, c := range candidates {
		for _, r := range reported {
			if strings.EqualFold(r, c) {
				return r, true
			}
		}
	}
	for _, c := range candidates {
		for _, r := range reported {
			if strings.Contains(strings.ToLower(r), strings.ToLower(c)) {
				return r, true
			}
		}
	}
	return "", false
}

// sessionIO reports an ONNX model's declared input/output names so
// resolveNames has something to match candidates against. Wraps
// onnxruntime_go's model-metadata inspection (spec §9).
func sessionIO(modelPath string) (inputs []string, outputs []string, err error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("moonshine: inspect model %q: %w", modelPath, err)
	}
	for _, i := range inInfo {
		inputs = append(inputs, i.Name)
	}
	for _, o := range outInfo {
		outputs = append(outputs, o.Name)
	}
	return inputs, outputs, nil
}

// pastKVDim resolves a possibly-dynamic dimension reported by ONNX metadata
// to a concrete value for allocating the initial empty KV cache: index 0
// (batch) becomes 1, every other negative/dynamic dim becomes 0, per spec
// §9's "past-KV initialization" note. flavorDim, if >= 0, overrides both.
func pastKVDim(index int, reported int64, flavorDim int) int64 {
	if flavorDim >= 0 {
		return int64(flavorDim)
	}
	if reported >= 0 {
		return reported
	}
	if index == 0 {
		return 1
	}
	return 0
}
