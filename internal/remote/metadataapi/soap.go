package metadataapi

import (
	"encoding/xml"
	"fmt"
)

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	metadataNS = "http://soap.sforce.com/2006/04/metadata"
)

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapEnv string   `xml:"xmlns:soapenv,attr"`
	Met     string   `xml:"xmlns:met,attr"`
	Header  struct {
		Session struct {
			SessionID string `xml:"met:sessionId"`
		} `xml:"met:SessionHeader"`
	} `xml:"soapenv:Header"`
	Body struct {
		Content any
	} `xml:"soapenv:Body"`
}

func newEnvelope(sessionID string, content any) *envelope {
	env := &envelope{SoapEnv: envelopeNS, Met: metadataNS}
	env.Header.Session.SessionID = sessionID
	env.Body.Content = content
	return env
}

// Responses are matched on local names only.
type responseEnvelope struct {
	Body struct {
		Fault *Fault `xml:"Fault"`
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault is a SOAP fault returned by the metadata API.
type Fault struct {
	Code    string `xml:"faultcode"`
	Message string `xml:"faultstring"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("metadataapi: %s: %s", f.Code, f.Message)
}

// Requests.

type deployRequest struct {
	XMLName xml.Name      `xml:"met:deploy"`
	ZipFile string        `xml:"met:ZipFile"`
	Options deployOptions `xml:"met:DeployOptions"`
}

type deployOptions struct {
	CheckOnly       bool     `xml:"met:checkOnly"`
	IgnoreWarnings  bool     `xml:"met:ignoreWarnings"`
	RollbackOnError bool     `xml:"met:rollbackOnError"`
	RunTests        []string `xml:"met:runTests"`
	SinglePackage   bool     `xml:"met:singlePackage"`
	TestLevel       string   `xml:"met:testLevel,omitempty"`
}

type checkDeployStatusRequest struct {
	XMLName        xml.Name `xml:"met:checkDeployStatus"`
	AsyncProcessID string   `xml:"met:asyncProcessId"`
	IncludeDetails bool     `xml:"met:includeDetails"`
}

type cancelDeployRequest struct {
	XMLName xml.Name `xml:"met:cancelDeploy"`
	ID      string   `xml:"met:String"`
}

type retrieveRequest struct {
	XMLName xml.Name        `xml:"met:retrieve"`
	Request retrieveOptions `xml:"met:retrieveRequest"`
}

type retrieveOptions struct {
	APIVersion    string        `xml:"met:apiVersion"`
	SinglePackage bool          `xml:"met:singlePackage"`
	Unpackaged    packageFilter `xml:"met:unpackaged"`
}

type packageFilter struct {
	Types   []packageTypes `xml:"met:types"`
	Version string         `xml:"met:version"`
}

type packageTypes struct {
	Members []string `xml:"met:members"`
	Name    string   `xml:"met:name"`
}

type checkRetrieveStatusRequest struct {
	XMLName        xml.Name `xml:"met:checkRetrieveStatus"`
	AsyncProcessID string   `xml:"met:asyncProcessId"`
	IncludeZip     bool     `xml:"met:includeZip"`
}

// Responses.

type asyncResult struct {
	ID      string `xml:"id"`
	Done    bool   `xml:"done"`
	State   string `xml:"state"`
	Message string `xml:"message"`
}

type deployResponse struct {
	Result asyncResult `xml:"result"`
}

type retrieveResponse struct {
	Result asyncResult `xml:"result"`
}

type cancelDeployResponse struct {
	Result struct {
		ID   string `xml:"id"`
		Done bool   `xml:"done"`
	} `xml:"result"`
}

type deployMessage struct {
	Changed       bool   `xml:"changed"`
	ColumnNumber  int    `xml:"columnNumber"`
	ComponentType string `xml:"componentType"`
	Created       bool   `xml:"created"`
	Deleted       bool   `xml:"deleted"`
	FileName      string `xml:"fileName"`
	FullName      string `xml:"fullName"`
	LineNumber    int    `xml:"lineNumber"`
	Problem       string `xml:"problem"`
	ProblemType   string `xml:"problemType"`
	Success       bool   `xml:"success"`
}

type runTestFailure struct {
	MethodName string  `xml:"methodName"`
	Message    string  `xml:"message"`
	Name       string  `xml:"name"`
	StackTrace string  `xml:"stackTrace"`
	Time       float64 `xml:"time"`
}

type deployResult struct {
	ID                       string `xml:"id"`
	Done                     bool   `xml:"done"`
	Status                   string `xml:"status"`
	Success                  bool   `xml:"success"`
	ErrorMessage             string `xml:"errorMessage"`
	CreatedDate              string `xml:"createdDate"`
	NumberComponentsDeployed int    `xml:"numberComponentsDeployed"`
	NumberComponentErrors    int    `xml:"numberComponentErrors"`
	NumberComponentsTotal    int    `xml:"numberComponentsTotal"`
	Details                  struct {
		ComponentSuccesses []deployMessage `xml:"componentSuccesses"`
		ComponentFailures  []deployMessage `xml:"componentFailures"`
		RunTestResult      *struct {
			NumFailures int              `xml:"numFailures"`
			NumTestsRun int              `xml:"numTestsRun"`
			TotalTime   float64          `xml:"totalTime"`
			Failures    []runTestFailure `xml:"failures"`
		} `xml:"runTestResult"`
	} `xml:"details"`
}

type checkDeployStatusResponse struct {
	Result deployResult `xml:"result"`
}

type fileProperties struct {
	FileName string `xml:"fileName"`
	FullName string `xml:"fullName"`
	Type     string `xml:"type"`
}

type retrieveMessage struct {
	FileName string `xml:"fileName"`
	Problem  string `xml:"problem"`
}

type retrieveResult struct {
	ID             string            `xml:"id"`
	Done           bool              `xml:"done"`
	Status         string            `xml:"status"`
	Success        bool              `xml:"success"`
	ErrorMessage   string            `xml:"errorMessage"`
	ErrorStatus    string            `xml:"errorStatusCode"`
	FileProperties []fileProperties  `xml:"fileProperties"`
	Messages       []retrieveMessage `xml:"messages"`
	ZipFile        string            `xml:"zipFile"`
}

type checkRetrieveStatusResponse struct {
	Result retrieveResult `xml:"result"`
}
