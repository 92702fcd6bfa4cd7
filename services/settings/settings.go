package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"github.com/untangle/tlsflowd/services/logger"
)

const settingsFile = "/etc/tlsflowd/settings.json"
const defaultsFile = "/etc/tlsflowd/defaults.json"

// Startup settings service
func Startup() {
}

// Shutdown settings service
func Shutdown() {

}

// GetSettings returns the settings from the specified path
func GetSettings(segments []string) interface{} {
	return GetSettingsFile(segments, settingsFile)
}

// SetSettings updates the settings
func SetSettings(segments []string, value interface{}) interface{} {
	return SetSettingsFile(segments, value, settingsFile)
}

// TrimSettings trims the settings
func TrimSettings(segments []string) interface{} {
	return TrimSettingsFile(segments, settingsFile)
}

// GetDefaultSettings returns the default settings from the specified path
func GetDefaultSettings(segments []string) interface{} {
	return GetSettingsFile(segments, defaultsFile)
}

// GetSettingsFile returns the settings from the specified path of the specified filename
func GetSettingsFile(segments []string, filename string) interface{} {
	var err error
	var jsonObject interface{}

	jsonObject, err = readSettingsFileJSON(filename)
	if err != nil {
		return createJSONErrorObject(err)
	}

	jsonObject, err = getSettingsFromJSON(jsonObject, segments)
	if err != nil {
		return createJSONErrorObject(err)
	}

	return jsonObject
}

// SetSettingsFile updates the settings
func SetSettingsFile(segments []string, value interface{}, filename string) interface{} {
	var ok bool
	var err error
	var jsonSettings map[string]interface{}
	var newSettings interface{}

	jsonSettings, err = readSettingsFileJSON(filename)
	if err != nil {
		return createJSONErrorObject(err)
	}

	newSettings, err = setSettingsInJSON(jsonSettings, segments, value)
	if err != nil {
		return createJSONErrorObject(err)
	}
	jsonSettings, ok = newSettings.(map[string]interface{})
	if !ok {
		return createJSONErrorObject(errors.New("Invalid global settings object"))
	}

	err = syncAndSave(jsonSettings, filename)
	if err != nil {
		return createJSONErrorObject(err)
	}

	return createJSONObject("result", "OK")
}

// readSettingsFileJSON reads the settings file and return the corresponding JSON object
func readSettingsFileJSON(filename string) (map[string]interface{}, error) {
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var jsonObject interface{}
	err = json.Unmarshal(raw, &jsonObject)
	if err != nil {
		return nil, err
	}
	j, ok := jsonObject.(map[string]interface{})
	if ok {
		return j, nil
	}

	return nil, errors.New("Invalid settings file format")
}

// writeSettingsFileJSON writes the specified JSON object to the settings file
func writeSettingsFileJSON(jsonObject map[string]interface{}, file *os.File) (bool, error) {
	var err error

	// Marshal it back to a string (with ident)
	var jsonBytes []byte
	jsonBytes, err = json.MarshalIndent(jsonObject, "", "  ")
	if err != nil {
		return false, err
	}

	_, err = file.Write(jsonBytes)
	if err != nil {
		return false, err
	}
	file.Sync()

	return true, nil
}

// Create a JSON object with the single key value pair
func createJSONObject(key string, value string) map[string]interface{} {
	return map[string]interface{}{key: value}
}

// Create a JSON object with an error based on the object
func createJSONErrorObject(e error) map[string]interface{} {
	return createJSONObject("error", e.Error())
}

// Create a JSON object with an error based on the string
func createJSONErrorString(str string) map[string]interface{} {
	return createJSONObject("error", str)
}

// getArrayIndex get an array value by index as a string
func getArrayIndex(array []interface{}, idx string) (interface{}, error) {
	i, err := strconv.Atoi(idx)
	if err != nil {
		return nil, err
	}
	if i >= cap(array) {
		return nil, errors.New("array index exceeded capacity")
	}
	return array[i], nil
}

// setArray index sets the value of element specified by the idx as a string
// to the specified value
func setArrayIndex(array []interface{}, idx string, value interface{}) ([]interface{}, error) {
	i, err := strconv.Atoi(idx)
	if err != nil {
		return nil, err
	}
	if i >= cap(array) {
		return nil, errors.New("array index exceeded capacity")
	}
	array[i] = value
	return array, nil
}

// getObjectIndex takes an object that is either a []interface{} or map[string]interface{}
// and returns the object specified by the index string
func getObjectIndex(obj interface{}, idx string) (interface{}, error) {
	var jsonObject map[string]interface{}
	var jsonArray []interface{}
	var ok bool
	jsonObject, ok = obj.(map[string]interface{})
	if ok {
		return jsonObject[idx], nil
	}
	jsonArray, ok = obj.([]interface{})
	if ok {
		return getArrayIndex(jsonArray, idx)
	}
	return nil, fmt.Errorf("unknown type: %T", obj)
}

// setObjectIndex takes an object that is either a []interface{} or map[string]interface{}
// and a index as a string, and returns the child object
// if the object is an array the index must be a string integer "3"
// if the object is an jsonobject the index can be any string
func setObjectIndex(obj interface{}, idx string, value interface{}) (interface{}, error) {
	var jsonObject map[string]interface{}
	var jsonArray []interface{}
	var ok bool
	jsonObject, ok = obj.(map[string]interface{})
	if ok {
		jsonObject[idx] = value
		return jsonObject, nil
	}
	jsonArray, ok = obj.([]interface{})
	if ok {
		return setArrayIndex(jsonArray, idx, value)
	}
	return nil, errors.New("unknown type")
}

// TrimSettingsFile trims the settings in the specified file
func TrimSettingsFile(segments []string, filename string) interface{} {
	var ok bool
	var err error
	var iterJSONObject map[string]interface{}
	var jsonSettings map[string]interface{}

	if segments == nil {
		return createJSONErrorString("Invalid trim settings path")
	}

	jsonSettings, err = readSettingsFileJSON(filename)
	if err != nil {
		return createJSONErrorObject(err)
	}

	iterJSONObject = jsonSettings

	for i, value := range segments {
		//if this is the last value, set and break
		if i == len(segments)-1 {
			delete(iterJSONObject, value)
			break
		}

		// otherwise recurse down object
		// 3 cases:
		// if json[foo] does not exist, nothing to delete
		// if json[foo] exists and is a map, recurse
		// if json[foo] exists and is not a map (its some value)
		//    in this case we throw an error
		if iterJSONObject[value] == nil {
			// path does not exists - nothing to delete, just quit
			break
		} else {
			var j map[string]interface{}
			j, ok = iterJSONObject[value].(map[string]interface{})
			iterJSONObject[value] = make(map[string]interface{})
			if ok {
				iterJSONObject[value] = j
				iterJSONObject = j // for next iteration
			} else {
				return createJSONErrorString("Non-dict found in path: " + string(value))
			}
		}
	}

	err = syncAndSave(jsonSettings, filename)
	if err != nil {
		return createJSONErrorObject(err)
	}

	return createJSONObject("result", "OK")
}

// setSettingsInJSON sets the value attribute specified of the segments path to the specified value
func setSettingsInJSON(jsonObject interface{}, segments []string, value interface{}) (interface{}, error) {
	var err error

	if len(segments) == 0 {
		// the value is the new jsonObject
		return value, nil
	} else if len(segments) == 1 {
		return setObjectIndex(jsonObject, segments[0], value)
	} else {
		element, newSegments := segments[0], segments[1:]

		mapObject, ok := jsonObject.(map[string]interface{})

		// if this element isnt a map, we cant recurse, so just make it a map
		// this will override the existing value
		if !ok {
			mapObject = make(map[string]interface{})
			jsonObject = mapObject
		}

		// if the next element is null null, create a new map
		if mapObject[element] == nil {
			mapObject[element] = make(map[string]interface{})
		}

		mapObject[element], err = setSettingsInJSON(mapObject[element], newSegments, value)
		return jsonObject, err
	}
}

// getSettingsFromJSON gets the value attribute specified by the segments string from the specified json object
func getSettingsFromJSON(jsonObject interface{}, segments []string) (interface{}, error) {
	if len(segments) == 0 {
		return jsonObject, nil
	} else if len(segments) == 1 {
		return getObjectIndex(jsonObject, segments[0])
	} else {
		element, newSegments := segments[0], segments[1:]

		newObject, err := getObjectIndex(jsonObject, element)
		if err != nil {
			return nil, err
		}
		if newObject == nil {
			return nil, errors.New("Attribute " + element + " missing from JSON Object")
		}
		return getSettingsFromJSON(newObject, newSegments)
	}
}

// syncAndSave writes the jsonObject to a tmp file in the same
// directory as filename and atomically renames it into place. There
// is no external sync-settings/openwrt step here: this daemon is not
// a router appliance, and its settings file has no other consumer
// that needs to validate or reload it out of band.
func syncAndSave(jsonObject map[string]interface{}, filename string) error {
	tmpfile, err := ioutil.TempFile(filepath.Dir(filename), "settings.json.")
	if err != nil {
		logger.Warn("Failed to generate tmpfile: %v\n", err.Error())
		return err
	}
	defer os.Remove(tmpfile.Name())
	defer tmpfile.Close()

	logger.Info("Writing settings to %v\n", tmpfile.Name())
	if _, err := writeSettingsFileJSON(jsonObject, tmpfile); err != nil {
		logger.Warn("Failed to write settings file: %v\n", err.Error())
		return err
	}
	tmpfile.Close()

	if err := os.Rename(tmpfile.Name(), filename); err != nil {
		logger.Warn("Failed to install settings file: %v\n", err.Error())
		return err
	}

	return nil
}
