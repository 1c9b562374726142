package redis

// Key layout:
//
//	room:{roomID}:pointer:act      current activation id (empty string = none)
//	room:{roomID}:pointer:ver      pointer CAS version
//	room:{roomID}:scores           hash participantID -> participant JSON
//	room:{roomID}:scores:ver       hash participantID -> row CAS version
//	rooms                          set of room ids with a pointer record
//	activation:{id}                activation JSON
//	activation:{id}:ver            activation CAS version
//	activation:{id}:responses      hash participantID -> response JSON
//	activation:{id}:scored         hash participantID -> settlement claim
//	activation:{id}:tally          hash optionID -> vote count
//	template:{id}                  cached template JSON

const roomsKey = "rooms"

func pointerActKey(roomID string) string { return "room:" + roomID + ":pointer:act" }

func pointerVerKey(roomID string) string { return "room:" + roomID + ":pointer:ver" }

func scoresKey(roomID string) string { return "room:" + roomID + ":scores" }

func scoresVerKey(roomID string) string { return "room:" + roomID + ":scores:ver" }

func activationKey(id string) string { return "activation:" + id }

func activationVerKey(id string) string { return "activation:" + id + ":ver" }

func responsesKey(actID string) string { return "activation:" + actID + ":responses" }

func scoredKey(actID string) string { return "activation:" + actID + ":scored" }

func tallyKey(actID string) string { return "activation:" + actID + ":tally" }

func templateKey(templateID string) string { return "template:" + templateID }
